package insights

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/replyline/replyline/internal/models"
)

type mockChat struct {
	reply   string
	err     error
	gotUser string
}

func (m *mockChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(params.Messages) > 1 {
		if user := params.Messages[1].OfUser; user != nil {
			m.gotUser = user.Content.OfString.Value
		}
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.reply}},
		},
	}, nil
}

func testSession() models.FeedbackSession {
	return models.FeedbackSession{ID: "sess-1", OrgID: "org-1", TotalScore: 9}
}

func testResponses() []models.FeedbackResponse {
	return []models.FeedbackResponse{
		{Value: "5", Snapshot: models.Question{Text: "How would you rate your visit?"}},
		{Value: "Great service", Snapshot: models.Question{Text: "Any comments?"}},
	}
}

func TestSummarizeFeedback(t *testing.T) {
	mock := &mockChat{reply: "  The customer rated the visit 5 and praised the service.  "}
	c := &Client{chat: mock}

	summary, err := c.SummarizeFeedback(context.Background(), testSession(), testResponses())
	if err != nil {
		t.Fatalf("SummarizeFeedback() error = %v", err)
	}
	if summary != "The customer rated the visit 5 and praised the service." {
		t.Errorf("summary = %q, want trimmed mock reply", summary)
	}
	if !strings.Contains(mock.gotUser, "How would you rate your visit?") {
		t.Errorf("user prompt missing question text: %q", mock.gotUser)
	}
	if !strings.Contains(mock.gotUser, "Great service") {
		t.Errorf("user prompt missing answer text: %q", mock.gotUser)
	}
}

func TestSummarizeFeedbackAPIError(t *testing.T) {
	c := &Client{chat: &mockChat{err: errors.New("rate limited")}}

	if _, err := c.SummarizeFeedback(context.Background(), testSession(), testResponses()); err == nil {
		t.Fatal("SummarizeFeedback() error = nil, want error")
	}
}

func TestSummarizeFeedbackNoResponses(t *testing.T) {
	c := &Client{chat: &mockChat{reply: "unused"}}

	if _, err := c.SummarizeFeedback(context.Background(), testSession(), nil); err == nil {
		t.Fatal("SummarizeFeedback() error = nil, want error for empty responses")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("NewClient() error = nil, want error for missing key")
	}
}
