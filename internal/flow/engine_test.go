package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/replyline/replyline/internal/models"
)

var testEngineOrg = models.Organization{ID: "org-1", Name: "Acme Dental", SenderID: "ACME"}

func testCatalog() []models.Question {
	return []models.Question{
		{
			ID: "q-choice", Text: "Were you seen on time?",
			Type: models.QuestionTypeSingleChoice, DisplayOrder: 1, Active: true,
			Options: []models.QuestionOption{
				{Text: "Yes", DisplayOrder: 1},
				{Text: "No", DisplayOrder: 2},
			},
		},
		{
			ID: "q-star", Text: "How would you rate your visit?",
			Type: models.QuestionTypeStar, DisplayOrder: 2, Active: true,
			Scale: &models.QuestionScale{Min: 1, Max: 5},
		},
		{
			ID: "q-text", Text: "Any comments?",
			Type: models.QuestionTypeText, DisplayOrder: 3, Active: true,
		},
	}
}

func staticCatalog(questions []models.Question) CatalogFunc {
	return func(ctx context.Context) ([]models.Question, error) {
		return questions, nil
	}
}

// drive advances progress by one message and applies the result the way the
// webhook endpoint does, minus persistence.
func drive(t *testing.T, e *Engine, progress *models.ConversationProgress, text string, catalog CatalogFunc) StepResult {
	t.Helper()
	result, err := e.Step(context.Background(), *progress, text, catalog)
	if err != nil {
		t.Fatalf("Step(%q) error = %v", text, err)
	}
	progress.Step = result.Step
	progress.ConsentGiven = result.ConsentGiven
	progress.Session = result.Session
	return result
}

func TestEngineMonotonicTraversal(t *testing.T) {
	e := NewEngine(testEngineOrg)
	catalog := testCatalog()
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	// Consent "1" (yes), then answers "1", "5", "Great service".
	inputs := []string{"1", "1", "5", "Great service"}
	wantSteps := []string{"question_0", "question_1", "question_2", "completed"}

	var inserts int
	for i, in := range inputs {
		result := drive(t, e, &progress, in, staticCatalog(catalog))
		if result.Step.String() != wantSteps[i] {
			t.Fatalf("input %d (%q): step = %s, want %s", i, in, result.Step, wantSteps[i])
		}
		if result.Effects.InsertResponse != nil {
			inserts++
		}
	}
	if inserts != 3 {
		t.Errorf("response inserts = %d, want 3", inserts)
	}

	final := progress.Session
	if got := final.TotalScore(); got != 5 {
		t.Errorf("total score = %d, want 5 (only the star answer is numeric)", got)
	}
	if len(final.Answers) != 3 {
		t.Errorf("answers recorded = %d, want 3", len(final.Answers))
	}
	if final.Answers["q-choice"].Value != "Yes" {
		t.Errorf("choice answer = %q, want coerced option text", final.Answers["q-choice"].Value)
	}
}

func TestEngineConsentAffirmativeForms(t *testing.T) {
	e := NewEngine(testEngineOrg)
	catalog := testCatalog()

	for _, in := range []string{"1", "yes", "y", "YES", " Yes "} {
		progress := models.NewConversationProgress("org-1", "15551234567", "ACME")
		result := drive(t, e, &progress, in, staticCatalog(catalog))
		if result.Step != models.QuestionStep(0) {
			t.Errorf("input %q: step = %s, want question_0", in, result.Step)
		}
		if !result.ConsentGiven {
			t.Errorf("input %q: consent flag not set", in)
		}
		if !result.Effects.CreateSession {
			t.Errorf("input %q: session creation not requested", in)
		}
	}
}

func TestEngineConsentDecline(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	result := drive(t, e, &progress, "no", staticCatalog(testCatalog()))
	if result.Step != models.CompletedStep() {
		t.Errorf("step = %s, want completed", result.Step)
	}
	if result.Reply != DeclineMessage {
		t.Errorf("reply = %q, want decline acknowledgement", result.Reply)
	}
	if result.Effects.CreateSession || result.Effects.InsertResponse != nil || result.Effects.CompleteSession != nil {
		t.Errorf("effects = %+v, want none on decline", result.Effects)
	}
}

func TestEngineConsentEmptyCatalog(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	result := drive(t, e, &progress, "yes", staticCatalog(nil))
	if result.Step != models.CompletedStep() {
		t.Errorf("step = %s, want completed", result.Step)
	}
	if result.Reply != EmptyCatalogMessage {
		t.Errorf("reply = %q, want empty-catalog apology", result.Reply)
	}
	if !result.ConsentGiven {
		t.Error("consent flag not set despite affirmative reply")
	}
	if result.Effects.CreateSession {
		t.Error("session creation requested for empty catalog")
	}
}

func TestEngineCatalogFetchError(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	wantErr := errors.New("db down")
	_, err := e.Step(context.Background(), progress, "yes", func(ctx context.Context) ([]models.Question, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Step() error = %v, want wrapped catalog error", err)
	}
}

func TestEngineIdempotentRejection(t *testing.T) {
	e := NewEngine(testEngineOrg)
	catalog := testCatalog()
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	entry := drive(t, e, &progress, "yes", staticCatalog(catalog))
	entryPrompt := entry.Reply

	// Invalid input holds the step and reproduces the entry prompt byte for
	// byte after the rejection line.
	var lastReply string
	for i, bad := range []string{"abc", "0", "3"} {
		result := drive(t, e, &progress, bad, staticCatalog(catalog))
		if result.Step != models.QuestionStep(0) {
			t.Fatalf("invalid input %d: step = %s, want question_0", i, result.Step)
		}
		if result.Effects.InsertResponse != nil {
			t.Fatalf("invalid input %d: response insert requested", i)
		}
		want := "Please reply with a number between 1 and 2.\n\n" + entryPrompt
		if result.Reply != want {
			t.Fatalf("invalid input %d: reply = %q, want %q", i, result.Reply, want)
		}
		lastReply = result.Reply
	}
	if lastReply == "" {
		t.Fatal("no retry replies observed")
	}
}

func TestEngineTerminalAbsorption(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")
	progress.Step = models.CompletedStep()

	for _, in := range []string{"hello", "1", ""} {
		result := drive(t, e, &progress, in, staticCatalog(testCatalog()))
		if result.Step != models.CompletedStep() {
			t.Errorf("input %q: step = %s, want completed", in, result.Step)
		}
		if result.Reply != CompletedAck {
			t.Errorf("input %q: reply = %q, want completed acknowledgement", in, result.Reply)
		}
		if result.Effects.CreateSession || result.Effects.InsertResponse != nil || result.Effects.CompleteSession != nil {
			t.Errorf("input %q: effects = %+v, want none", in, result.Effects)
		}
	}
}

func TestEngineUnknownStepRestarts(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")
	progress.Step = models.Step{}

	result := drive(t, e, &progress, "whatever", staticCatalog(testCatalog()))
	if result.Step != models.ConsentStep() {
		t.Errorf("step = %s, want consent restart", result.Step)
	}
	if result.Reply != ConsentPrompt("Acme Dental") {
		t.Errorf("reply = %q, want canonical consent prompt", result.Reply)
	}
}

func TestEngineCatalogShrank(t *testing.T) {
	e := NewEngine(testEngineOrg)
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")
	progress.Step = models.QuestionStep(5)
	progress.Session = models.SessionData{Questions: testCatalog()[:1], Index: 5}

	result := drive(t, e, &progress, "1", staticCatalog(nil))
	if result.Step != models.CompletedStep() {
		t.Errorf("step = %s, want completed", result.Step)
	}
	if result.Reply != GenericThanks {
		t.Errorf("reply = %q, want generic thanks", result.Reply)
	}
}

func TestEngineCompletionEffect(t *testing.T) {
	e := NewEngine(testEngineOrg)
	catalog := testCatalog()[:1]
	progress := models.NewConversationProgress("org-1", "15551234567", "ACME")

	drive(t, e, &progress, "yes", staticCatalog(catalog))
	result := drive(t, e, &progress, "2", staticCatalog(catalog))

	if result.Step != models.CompletedStep() {
		t.Fatalf("step = %s, want completed", result.Step)
	}
	if result.Effects.CompleteSession == nil {
		t.Fatal("completion effect missing")
	}
	if result.Effects.CompleteSession.TotalScore != 0 {
		t.Errorf("total score = %d, want 0 for a single non-numeric answer", result.Effects.CompleteSession.TotalScore)
	}
	if want := fmt.Sprintf("That was the last question. Thank you for sharing your feedback with %s!", testEngineOrg.Name); result.Reply != want {
		t.Errorf("closing reply = %q, want %q", result.Reply, want)
	}
}
