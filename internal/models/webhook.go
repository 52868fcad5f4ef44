// Package models defines the inbound webhook payload for the SMS gateway.
package models

import "errors"

// Error variables for webhook payload validation.
var (
	ErrMissingSenderID = errors.New("missing required field: to")
	ErrMissingFrom     = errors.New("missing required field: from")
	ErrMissingText     = errors.New("missing required field: text")
)

// InboundMessage is the JSON body posted by the SMS gateway when a
// respondent replies. To carries the tenant-identifying sender ID, From the
// replying phone number, ID the provider's message identifier.
type InboundMessage struct {
	LinkID string `json:"linkId"`
	Text   string `json:"text"`
	To     string `json:"to"`
	ID     string `json:"id"`
	Date   string `json:"date"`
	From   string `json:"from"`
}

// Validate checks that the three required fields are present.
func (m *InboundMessage) Validate() error {
	if m.To == "" {
		return ErrMissingSenderID
	}
	if m.From == "" {
		return ErrMissingFrom
	}
	if m.Text == "" {
		return ErrMissingText
	}
	return nil
}

// WebhookResult is the success body returned to the gateway.
type WebhookResult struct {
	Success bool   `json:"success"`
	Step    string `json:"step"`
}

// WebhookError is the error body returned to the gateway.
type WebhookError struct {
	Error string `json:"error"`
}
