package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/replyline/replyline/internal/models"
)

// DefaultGatewayTimeout bounds a single send request to the SMS gateway.
const DefaultGatewayTimeout = 30 * time.Second

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// SettingsReader resolves runtime settings. The gateway base URL lives in
// system settings so it can change without a restart.
type SettingsReader interface {
	GetSetting(key string) (string, error)
}

// gatewayPayload is the wire shape of a gateway send request.
type gatewayPayload struct {
	OrgID      string   `json:"org_id"`
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	Sender     string   `json:"sender"`
	Username   string   `json:"username"`
	APIKey     string   `json:"api_key"`
}

// GatewayNotifier delivers SMS through an HTTP gateway. Requests are signed
// with the organization's webhook secret so the gateway can authenticate the
// caller.
type GatewayNotifier struct {
	settings   SettingsReader
	settingKey string
	client     *http.Client
}

// NewGatewayNotifier creates a gateway notifier that reads its base URL from
// the given settings key.
func NewGatewayNotifier(settings SettingsReader, settingKey string) *GatewayNotifier {
	return &GatewayNotifier{
		settings:   settings,
		settingKey: settingKey,
		client:     &http.Client{Timeout: DefaultGatewayTimeout},
	}
}

// Deliver sends one message to one phone via the configured gateway. It
// returns ErrNotConfigured when no gateway base URL is set or the
// organization carries no gateway credentials.
func (g *GatewayNotifier) Deliver(ctx context.Context, org models.Organization, phone, message string) error {
	baseURL, err := g.settings.GetSetting(g.settingKey)
	if err != nil {
		slog.Error("GatewayNotifier failed to read base URL setting", "error", err)
		return fmt.Errorf("failed to read gateway base URL: %w", err)
	}
	if baseURL == "" {
		slog.Debug("GatewayNotifier base URL not set, skipping delivery", "org", org.ID)
		return ErrNotConfigured
	}
	if org.GatewayUsername == "" || org.GatewayAPIKey == "" {
		slog.Debug("GatewayNotifier credentials not set, skipping delivery", "org", org.ID)
		return ErrNotConfigured
	}

	canonical, err := CanonicalizeRecipient(phone)
	if err != nil {
		slog.Error("GatewayNotifier recipient validation failed", "error", err, "to", phone)
		return err
	}

	body, err := json.Marshal(gatewayPayload{
		OrgID:      org.ID,
		Recipients: []string{canonical},
		Message:    message,
		Sender:     org.SenderID,
		Username:   org.GatewayUsername,
		APIKey:     org.GatewayAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/send-sms"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignBody([]byte(org.WebhookSecret), body))

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Error("GatewayNotifier request failed", "error", err, "org", org.ID)
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("GatewayNotifier send rejected", "status", resp.StatusCode, "org", org.ID, "body", string(respBody))
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	slog.Info("GatewayNotifier message delivered", "org", org.ID, "to", canonical)
	return nil
}
