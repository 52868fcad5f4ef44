// Package flow provides prompt rendering for the SMS conversation.
package flow

import (
	"fmt"
	"strings"

	"github.com/replyline/replyline/internal/models"
)

// Static acknowledgement texts. These must stay deterministic: the retry
// path re-renders the prompt the respondent already saw, byte for byte.
const (
	// DeclineMessage acknowledges a declined consent prompt.
	DeclineMessage = "No problem, we won't send you any questions. Have a great day!"
	// EmptyCatalogMessage apologizes when consent was given but the
	// organization has no active questions.
	EmptyCatalogMessage = "Thank you for being willing to help! We don't have any questions for you right now. Sorry for the trouble."
	// CompletedAck is returned for any message after the conversation ended.
	CompletedAck = "Thanks again! Your feedback has already been recorded."
	// GenericThanks closes a conversation whose catalog shrank mid-flight.
	GenericThanks = "Thank you for your feedback!"
)

// ConsentPrompt renders the canonical opening message for an organization.
func ConsentPrompt(orgName string) string {
	return fmt.Sprintf("Hello! %s would like your feedback on your recent experience. Would you like to answer a few short questions?\n1. Yes\n2. No\n\nReply with the number of your choice.", orgName)
}

// CompletionMessage renders the closing thank-you for an organization.
func CompletionMessage(orgName string) string {
	return fmt.Sprintf("That was the last question. Thank you for sharing your feedback with %s!", orgName)
}

// FormatQuestion renders a question prompt for the given 1-based ordinal.
// The rendering is a pure function of (question, ordinal): the same inputs
// always yield the same prompt, which the retry path relies on.
func FormatQuestion(q models.Question, ordinal int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Q%d: %s\n", ordinal, q.Text)

	switch q.Type {
	case models.QuestionTypeSingleChoice:
		for i, opt := range sortedOptions(q.Options) {
			fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Text)
		}
		b.WriteString("\nReply with the number of your choice.")

	case models.QuestionTypeStar, models.QuestionTypeNPS:
		min, max := q.ScaleBounds()
		fmt.Fprintf(&b, "\nReply with a number from %d to %d", min, max)
		if q.Scale != nil && (q.Scale.MinLabel != "" || q.Scale.MaxLabel != "") {
			fmt.Fprintf(&b, " (%d = %s, %d = %s)", min, q.Scale.MinLabel, max, q.Scale.MaxLabel)
		}
		b.WriteString(".")

	default:
		b.WriteString("\nReply with your answer.")
	}

	return b.String()
}
