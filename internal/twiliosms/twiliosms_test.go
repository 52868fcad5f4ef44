package twiliosms

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "15551234567", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_SendMessageFailure(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	mock.FailWith = errors.New("carrier rejected")

	if err := mock.SendMessage(ctx, "15551234567", "Hello"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("expected no recorded messages, got %d", len(mock.SentMessages))
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatal("expected error for missing credentials, got nil")
	}

	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Fatal("expected error for missing from number, got nil")
	}
}
