// Package insights summarizes completed feedback sessions using the OpenAI
// API. Summaries are stored alongside the session and surfaced through the
// admin API; a failure to summarize never affects the conversation itself.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/replyline/replyline/internal/models"
)

const systemPrompt = "You summarize customer feedback collected over SMS. " +
	"Given a list of survey questions and the customer's answers, write a " +
	"short neutral summary (2-3 sentences) of the customer's experience. " +
	"Do not invent details that are not in the answers."

// chatService is the minimal chat-completions surface used by the client.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the insights client.
type Opts struct {
	APIKey string
}

// Option defines a configuration option for the insights client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// Client wraps the OpenAI chat completion service for feedback summaries.
type Client struct {
	chat chatService
}

// NewClient initializes an insights client, falling back to the
// OPENAI_API_KEY environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &cli.Chat.Completions}, nil
}

// SummarizeFeedback produces a short prose summary of a completed session.
func (c *Client) SummarizeFeedback(ctx context.Context, session models.FeedbackSession, responses []models.FeedbackResponse) (string, error) {
	if len(responses) == 0 {
		return "", fmt.Errorf("no responses to summarize for session %s", session.ID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Total score: %d\n\n", session.TotalScore)
	for i, r := range responses {
		fmt.Fprintf(&sb, "Q%d: %s\nA%d: %s\n", i+1, r.Snapshot.Text, i+1, r.Value)
	}

	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		slog.Error("Insights summary request failed", "error", err, "session", session.ID)
		return "", fmt.Errorf("failed to summarize session %s: %w", session.ID, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned for session %s", session.ID)
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("Insights summary generated", "session", session.ID, "length", len(summary))
	return summary, nil
}
