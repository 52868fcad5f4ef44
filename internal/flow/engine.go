// Package flow implements the conversation state machine.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replyline/replyline/internal/models"
)

// CatalogFunc fetches the organization's active questions, ordered for
// presentation. The engine calls it at most once per step, only on the
// consent-affirmed transition.
type CatalogFunc func(ctx context.Context) ([]models.Question, error)

// ResponseInsert asks the caller to append one feedback response row. The
// question is the immutable snapshot captured when the answer was accepted.
type ResponseInsert struct {
	Question models.Question
	Value    string
	Score    *int
}

// SessionCompletion asks the caller to mark the feedback session completed.
type SessionCompletion struct {
	TotalScore int
}

// SideEffects describes the persistence actions a step requires. The engine
// never performs them; the webhook endpoint does, which keeps the state
// machine testable without a live store.
type SideEffects struct {
	CreateSession   bool
	InsertResponse  *ResponseInsert
	CompleteSession *SessionCompletion
}

// StepResult is the outcome of advancing a conversation by one inbound
// message.
type StepResult struct {
	Step         models.Step
	Reply        string // outbound prompt; empty means nothing to send
	ConsentGiven bool
	Session      models.SessionData
	Effects      SideEffects
}

// Engine advances conversations for one organization.
type Engine struct {
	org models.Organization
}

// NewEngine creates an engine bound to the organization whose name appears
// in the rendered prompts.
func NewEngine(org models.Organization) *Engine {
	return &Engine{org: org}
}

// affirmative reports whether the reply accepts the consent prompt.
func affirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "yes", "y":
		return true
	default:
		return false
	}
}

// Step computes the next conversation step for an inbound message. It
// returns the updated session data and the side effects the caller must
// persist; it performs no I/O itself beyond the catalog fetch.
func (e *Engine) Step(ctx context.Context, progress models.ConversationProgress, text string, catalog CatalogFunc) (StepResult, error) {
	slog.Debug("Engine.Step invoked", "org", e.org.ID, "phone", progress.Phone, "step", progress.Step.String())

	result := StepResult{
		Step:         progress.Step,
		ConsentGiven: progress.ConsentGiven,
		Session:      progress.Session,
	}

	switch progress.Step.Kind {
	case models.StepConsent:
		return e.stepConsent(ctx, result, text, catalog)
	case models.StepQuestion:
		return e.stepQuestion(result, progress.Step.Index, text), nil
	case models.StepCompleted:
		// Terminal absorption: acknowledge without transitions or effects.
		result.Reply = CompletedAck
		return result, nil
	default:
		// Corrupted or missing persisted step: restart the conversation.
		slog.Warn("Engine.Step resetting unrecognized step", "org", e.org.ID, "phone", progress.Phone)
		result.Step = models.ConsentStep()
		result.Reply = ConsentPrompt(e.org.Name)
		return result, nil
	}
}

func (e *Engine) stepConsent(ctx context.Context, result StepResult, text string, catalog CatalogFunc) (StepResult, error) {
	if !affirmative(text) {
		slog.Info("Engine consent declined", "org", e.org.ID)
		result.Step = models.CompletedStep()
		result.Reply = DeclineMessage
		return result, nil
	}

	questions, err := catalog(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to fetch question catalog: %w", err)
	}

	result.ConsentGiven = true
	if len(questions) == 0 {
		slog.Warn("Engine consent affirmed with empty catalog", "org", e.org.ID)
		result.Step = models.CompletedStep()
		result.Reply = EmptyCatalogMessage
		return result, nil
	}

	result.Step = models.QuestionStep(0)
	result.Session.Questions = questions
	result.Session.Index = 0
	result.Effects.CreateSession = true
	result.Reply = FormatQuestion(questions[0], 1)
	slog.Info("Engine consent affirmed", "org", e.org.ID, "questions", len(questions))
	return result, nil
}

func (e *Engine) stepQuestion(result StepResult, index int, text string) StepResult {
	questions := result.Session.Questions
	if index >= len(questions) {
		// The catalog snapshot shrank out from under the conversation.
		slog.Warn("Engine question index beyond snapshot", "org", e.org.ID, "index", index, "snapshot", len(questions))
		result.Step = models.CompletedStep()
		result.Reply = GenericThanks
		return result
	}

	q := questions[index]
	v := Validate(q, text)
	if !v.Accepted {
		// Retry keeps the step and re-renders the identical prompt.
		result.Reply = v.RetryPrompt + "\n\n" + FormatQuestion(q, index+1)
		return result
	}

	result.Session.RecordAnswer(q.ID, models.Answer{
		Value:    v.Value,
		Score:    v.Score,
		Category: q.Category,
	})
	result.Effects.InsertResponse = &ResponseInsert{Question: q, Value: v.Value, Score: v.Score}

	if index+1 < len(questions) {
		result.Step = models.QuestionStep(index + 1)
		result.Session.Index = index + 1
		result.Reply = FormatQuestion(questions[index+1], index+2)
		return result
	}

	result.Step = models.CompletedStep()
	result.Effects.CompleteSession = &SessionCompletion{TotalScore: result.Session.TotalScore()}
	result.Reply = CompletionMessage(e.org.Name)
	slog.Info("Engine conversation completed", "org", e.org.ID, "answers", len(result.Session.Answers))
	return result
}
