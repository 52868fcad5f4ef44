package flow

import (
	"testing"

	"github.com/replyline/replyline/internal/models"
)

func choiceQuestion(k int) models.Question {
	q := models.Question{ID: "q-choice", Text: "Pick one", Type: models.QuestionTypeSingleChoice}
	labels := []string{"First", "Second", "Third", "Fourth"}
	for i := 0; i < k; i++ {
		q.Options = append(q.Options, models.QuestionOption{Text: labels[i], DisplayOrder: i + 1})
	}
	return q
}

func TestValidateSingleChoice(t *testing.T) {
	q := choiceQuestion(3)

	for _, in := range []string{"1", "2", "3", " 2 "} {
		v := Validate(q, in)
		if !v.Accepted {
			t.Errorf("Validate(%q) rejected, want accepted", in)
		}
	}
	if v := Validate(q, "2"); v.Value != "Second" {
		t.Errorf("Validate(2) value = %q, want option text Second", v.Value)
	}

	for _, in := range []string{"0", "4", "-1", "abc", "", "1.5"} {
		v := Validate(q, in)
		if v.Accepted {
			t.Errorf("Validate(%q) accepted, want rejected", in)
		}
		if v.RetryPrompt != "Please reply with a number between 1 and 3." {
			t.Errorf("Validate(%q) retry = %q, want range message", in, v.RetryPrompt)
		}
	}
}

func TestValidateSingleChoiceValueFallback(t *testing.T) {
	q := models.Question{
		Type: models.QuestionTypeSingleChoice,
		Options: []models.QuestionOption{
			{Text: "Great", Value: "positive", DisplayOrder: 1},
			{Text: "Poor", DisplayOrder: 2},
		},
	}
	if v := Validate(q, "1"); v.Value != "positive" {
		t.Errorf("value = %q, want explicit option value", v.Value)
	}
	if v := Validate(q, "2"); v.Value != "Poor" {
		t.Errorf("value = %q, want text fallback", v.Value)
	}
}

func TestValidateScale(t *testing.T) {
	q := models.Question{
		Type:  models.QuestionTypeStar,
		Scale: &models.QuestionScale{Min: 1, Max: 5},
	}
	for n, want := range map[string]int{"1": 1, "3": 3, "5": 5} {
		v := Validate(q, n)
		if !v.Accepted {
			t.Errorf("Validate(%q) rejected, want accepted", n)
			continue
		}
		if v.Score == nil || *v.Score != want {
			t.Errorf("Validate(%q) score = %v, want %d", n, v.Score, want)
		}
	}
	for _, in := range []string{"0", "6", "five", ""} {
		v := Validate(q, in)
		if v.Accepted {
			t.Errorf("Validate(%q) accepted, want rejected", in)
		}
		if v.RetryPrompt != "Please reply with a number between 1 and 5." {
			t.Errorf("Validate(%q) retry = %q, want range message", in, v.RetryPrompt)
		}
	}
}

func TestValidateScaleDefaultsWithoutScale(t *testing.T) {
	q := models.Question{Type: models.QuestionTypeNPS}
	if v := Validate(q, "5"); !v.Accepted {
		t.Error("Validate(5) rejected under default 1..5 bounds")
	}
	if v := Validate(q, "6"); v.Accepted {
		t.Error("Validate(6) accepted outside default 1..5 bounds")
	}
}

func TestValidateText(t *testing.T) {
	q := models.Question{Type: models.QuestionTypeText}

	for _, in := range []string{"", "   ", "\t\n"} {
		if v := Validate(q, in); v.Accepted {
			t.Errorf("Validate(%q) accepted, want rejected for blank text", in)
		}
	}
	v := Validate(q, "  Great service  ")
	if !v.Accepted {
		t.Fatal("Validate(non-empty text) rejected")
	}
	if v.Value != "Great service" {
		t.Errorf("value = %q, want trimmed text", v.Value)
	}
	if v.Score != nil {
		t.Errorf("score = %v, want nil for text", v.Score)
	}
}

func TestValidateUnknownTypePassesThrough(t *testing.T) {
	q := models.Question{Type: models.QuestionType("emoji")}
	v := Validate(q, " :) ")
	if !v.Accepted || v.Value != ":)" {
		t.Errorf("Validate(unknown type) = %+v, want accepted pass-through", v)
	}
}
