// Package models defines conversation step types for the SMS feedback flow.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// StepKind discriminates the conversation step union.
type StepKind int

const (
	// StepUnknown is the zero value, reached only through corrupted or
	// missing persisted state. The engine treats it as a fresh start.
	StepUnknown StepKind = iota
	// StepConsent waits for the respondent to accept or decline the survey.
	StepConsent
	// StepQuestion waits for the answer to the question at Index.
	StepQuestion
	// StepCompleted is terminal; no further transitions are computed.
	StepCompleted
)

// Step identifies the position of a conversation within the question
// sequence. The persisted form is a string ("consent", "question_3",
// "completed"); the typed form keeps the question index out of string
// parsing everywhere else.
type Step struct {
	Kind  StepKind
	Index int // question index, valid only when Kind == StepQuestion
}

const (
	stepConsentString   = "consent"
	stepCompletedString = "completed"
	stepQuestionPrefix  = "question_"
)

// ConsentStep returns the initial step of every conversation.
func ConsentStep() Step { return Step{Kind: StepConsent} }

// QuestionStep returns the step waiting on the question at index i.
func QuestionStep(i int) Step { return Step{Kind: StepQuestion, Index: i} }

// CompletedStep returns the terminal step.
func CompletedStep() Step { return Step{Kind: StepCompleted} }

// ParseStep decodes the persisted string form of a step. Unrecognized input
// yields a StepUnknown step and an error; callers that load persisted state
// should pass the unknown step through to the engine, which resets the
// conversation rather than failing the request.
func ParseStep(s string) (Step, error) {
	switch {
	case s == stepConsentString:
		return ConsentStep(), nil
	case s == stepCompletedString:
		return CompletedStep(), nil
	case strings.HasPrefix(s, stepQuestionPrefix):
		idx, err := strconv.Atoi(strings.TrimPrefix(s, stepQuestionPrefix))
		if err != nil || idx < 0 {
			return Step{}, fmt.Errorf("invalid question step %q", s)
		}
		return QuestionStep(idx), nil
	default:
		return Step{}, fmt.Errorf("unrecognized step %q", s)
	}
}

// String encodes the step in its persisted form.
func (s Step) String() string {
	switch s.Kind {
	case StepConsent:
		return stepConsentString
	case StepQuestion:
		return stepQuestionPrefix + strconv.Itoa(s.Index)
	case StepCompleted:
		return stepCompletedString
	default:
		return ""
	}
}

// IsTerminal reports whether the step admits no further transitions.
func (s Step) IsTerminal() bool { return s.Kind == StepCompleted }
