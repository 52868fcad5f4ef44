package flow

import (
	"strings"
	"testing"

	"github.com/replyline/replyline/internal/models"
)

func TestConsentPromptInterpolatesName(t *testing.T) {
	p := ConsentPrompt("Acme Dental")
	if !strings.Contains(p, "Acme Dental") {
		t.Errorf("prompt %q does not mention the organization", p)
	}
	if !strings.Contains(p, "1. Yes") || !strings.Contains(p, "2. No") {
		t.Errorf("prompt %q missing numbered options", p)
	}
}

func TestFormatQuestionSingleChoice(t *testing.T) {
	q := models.Question{
		Text: "Were you seen on time?",
		Type: models.QuestionTypeSingleChoice,
		Options: []models.QuestionOption{
			{Text: "No", DisplayOrder: 2},
			{Text: "Yes", DisplayOrder: 1},
		},
	}
	p := FormatQuestion(q, 1)
	if !strings.HasPrefix(p, "Q1: Were you seen on time?") {
		t.Errorf("prompt %q missing ordinal header", p)
	}
	// Options render in display order, not input order.
	if strings.Index(p, "1. Yes") > strings.Index(p, "2. No") {
		t.Errorf("prompt %q options out of display order", p)
	}
}

func TestFormatQuestionScaleLabels(t *testing.T) {
	q := models.Question{
		Text:  "How likely are you to recommend us?",
		Type:  models.QuestionTypeNPS,
		Scale: &models.QuestionScale{Min: 0, Max: 10, MinLabel: "not likely", MaxLabel: "very likely"},
	}
	p := FormatQuestion(q, 2)
	if !strings.Contains(p, "from 0 to 10") {
		t.Errorf("prompt %q missing scale bounds", p)
	}
	if !strings.Contains(p, "0 = not likely") || !strings.Contains(p, "10 = very likely") {
		t.Errorf("prompt %q missing endpoint labels", p)
	}
}

func TestFormatQuestionStable(t *testing.T) {
	q := models.Question{
		Text: "Pick",
		Type: models.QuestionTypeSingleChoice,
		Options: []models.QuestionOption{
			{Text: "A", DisplayOrder: 1},
			{Text: "B", DisplayOrder: 2},
		},
	}
	first := FormatQuestion(q, 3)
	for i := 0; i < 5; i++ {
		if got := FormatQuestion(q, 3); got != first {
			t.Fatalf("rendering unstable: %q vs %q", got, first)
		}
	}
}
