// Package messaging provides pluggable outbound message delivery for
// feedback conversations. Each organization is configured with a delivery
// channel; the notifier for that channel carries the prompt to the phone.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/replyline/replyline/internal/models"
)

// phoneNumberRegex matches all non-numeric characters for canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// MinPhoneDigits is the minimum digit count for a canonical recipient.
const MinPhoneDigits = 6

// ErrNotConfigured indicates the notifier lacks the settings it needs to
// deliver. Callers treat this as a soft failure: the message is recorded as
// undelivered rather than aborting the conversation.
var ErrNotConfigured = errors.New("messaging: delivery channel not configured")

// Notifier delivers an outbound message on behalf of an organization.
type Notifier interface {
	Deliver(ctx context.Context, org models.Organization, phone, message string) error
}

// CanonicalizeRecipient strips formatting from a phone number and validates
// the result. It removes all non-numeric characters and requires at least
// MinPhoneDigits digits.
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}

	if canonical != recipient {
		slog.Debug("Canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
