// Package flow implements the SMS conversation engine for Replyline.
//
// Everything in this package is pure: the validator and the engine compute
// transitions and side-effect descriptions without touching storage or the
// network, so the whole state machine is testable against fixtures.
package flow

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/replyline/replyline/internal/models"
)

// ValidationResult is the outcome of checking a raw reply against a question.
// Accepted results carry the coerced value (and a score for rating types);
// rejected results carry the retry message to send back.
type ValidationResult struct {
	Accepted    bool
	Value       string
	Score       *int
	RetryPrompt string
}

func accept(value string) ValidationResult {
	return ValidationResult{Accepted: true, Value: value}
}

func acceptScored(value string, score int) ValidationResult {
	return ValidationResult{Accepted: true, Value: value, Score: &score}
}

func reject(prompt string) ValidationResult {
	return ValidationResult{RetryPrompt: prompt}
}

// Validate checks rawText against the question's answer grammar and coerces
// it to a typed value, or produces a retry prompt restating what is valid.
func Validate(q models.Question, rawText string) ValidationResult {
	text := strings.TrimSpace(rawText)

	switch q.Type {
	case models.QuestionTypeSingleChoice:
		opts := sortedOptions(q.Options)
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > len(opts) {
			return reject(fmt.Sprintf("Please reply with a number between 1 and %d.", len(opts)))
		}
		return accept(opts[n-1].AnswerValue())

	case models.QuestionTypeStar, models.QuestionTypeNPS:
		min, max := q.ScaleBounds()
		n, err := strconv.Atoi(text)
		if err != nil || n < min || n > max {
			return reject(fmt.Sprintf("Please reply with a number between %d and %d.", min, max))
		}
		return acceptScored(strconv.Itoa(n), n)

	case models.QuestionTypeText:
		if text == "" {
			return reject("Please reply with a response.")
		}
		return accept(text)

	default:
		// Unknown types pass through verbatim; they can never fail
		// validation.
		return accept(text)
	}
}

// sortedOptions returns the options ordered for presentation. The input is
// not modified; prompt rendering and validation must agree on this order.
func sortedOptions(opts []models.QuestionOption) []models.QuestionOption {
	sorted := make([]models.QuestionOption, len(opts))
	copy(sorted, opts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})
	return sorted
}
