package messaging

import (
	"context"
	"log/slog"

	"github.com/replyline/replyline/internal/models"
	"github.com/replyline/replyline/internal/twiliosms"
	"github.com/replyline/replyline/internal/whatsapp"
)

// TwilioNotifier delivers SMS through the Twilio REST API for organizations
// configured with the twilio channel.
type TwilioNotifier struct {
	client twiliosms.Sender
}

// NewTwilioNotifier wraps a Twilio sender. A nil client yields a notifier
// that reports ErrNotConfigured on every delivery.
func NewTwilioNotifier(client twiliosms.Sender) *TwilioNotifier {
	return &TwilioNotifier{client: client}
}

func (n *TwilioNotifier) Deliver(ctx context.Context, org models.Organization, phone, message string) error {
	if n.client == nil {
		slog.Debug("TwilioNotifier not configured, skipping delivery", "org", org.ID)
		return ErrNotConfigured
	}
	canonical, err := CanonicalizeRecipient(phone)
	if err != nil {
		slog.Error("TwilioNotifier recipient validation failed", "error", err, "to", phone)
		return err
	}
	return n.client.SendMessage(ctx, canonical, message)
}

// WhatsAppNotifier delivers messages through a connected WhatsApp session for
// organizations configured with the whatsapp channel.
type WhatsAppNotifier struct {
	client whatsapp.Sender
}

// NewWhatsAppNotifier wraps a WhatsApp sender. A nil client yields a notifier
// that reports ErrNotConfigured on every delivery.
func NewWhatsAppNotifier(client whatsapp.Sender) *WhatsAppNotifier {
	return &WhatsAppNotifier{client: client}
}

func (n *WhatsAppNotifier) Deliver(ctx context.Context, org models.Organization, phone, message string) error {
	if n.client == nil {
		slog.Debug("WhatsAppNotifier not configured, skipping delivery", "org", org.ID)
		return ErrNotConfigured
	}
	canonical, err := CanonicalizeRecipient(phone)
	if err != nil {
		slog.Error("WhatsAppNotifier recipient validation failed", "error", err, "to", phone)
		return err
	}
	return n.client.SendMessage(ctx, canonical, message)
}
