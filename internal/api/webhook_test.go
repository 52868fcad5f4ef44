package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/replyline/replyline/internal/flow"
	"github.com/replyline/replyline/internal/messaging"
	"github.com/replyline/replyline/internal/models"
	"github.com/replyline/replyline/internal/store"
	"github.com/replyline/replyline/internal/twiliosms"
)

// newTestServer builds a server over an in-memory store with a mock Twilio
// channel so outbound prompts can be observed.
func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *twiliosms.MockClient, *http.ServeMux) {
	t.Helper()
	st := store.NewInMemoryStore()
	mock := twiliosms.NewMockClient()
	s := NewServer(st, WithTwilioClient(mock))
	t.Cleanup(func() {
		s.sched.Stop()
		st.Close()
	})
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s, st, mock, mux
}

func seedOrg(t *testing.T, st *store.InMemoryStore) models.Organization {
	t.Helper()
	org := models.Organization{
		ID:            "org-1",
		Name:          "Acme Dental",
		SenderID:      "ACME",
		WebhookSecret: "topsecret",
		Channel:       models.ChannelTwilio,
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.CreateOrganization(org); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	return org
}

func seedCatalog(t *testing.T, st *store.InMemoryStore, orgID string) []models.Question {
	t.Helper()
	questions := []models.Question{
		{
			ID: "q-choice", OrgID: orgID, Text: "Were you seen on time?",
			Type: models.QuestionTypeSingleChoice, DisplayOrder: 1, Active: true,
			Options: []models.QuestionOption{
				{Text: "Yes", DisplayOrder: 1},
				{Text: "No", DisplayOrder: 2},
			},
		},
		{
			ID: "q-star", OrgID: orgID, Text: "How would you rate your visit?",
			Type: models.QuestionTypeStar, DisplayOrder: 2, Active: true,
			Scale: &models.QuestionScale{Min: 1, Max: 5},
		},
		{
			ID: "q-text", OrgID: orgID, Text: "Any comments?",
			Type: models.QuestionTypeText, DisplayOrder: 3, Active: true,
		},
	}
	for _, q := range questions {
		if err := st.CreateQuestion(q); err != nil {
			t.Fatalf("CreateQuestion(%s) error = %v", q.ID, err)
		}
	}
	return questions
}

// postWebhook sends a signed inbound message and decodes the response.
func postWebhook(t *testing.T, mux *http.ServeMux, secret string, msg models.InboundMessage) (*httptest.ResponseRecorder, models.WebhookResult) {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal inbound message: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", bytes.NewReader(body))
	if secret != "" {
		req.Header.Set(messaging.SignatureHeader, messaging.SignBody([]byte(secret), body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var result models.WebhookResult
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("decode webhook result: %v (body %s)", err, rec.Body.String())
		}
	}
	return rec, result
}

func inbound(text, id string) models.InboundMessage {
	return models.InboundMessage{To: "ACME", From: "+1 555 123 4567", Text: text, ID: id}
}

func TestWebhookFullConversation(t *testing.T) {
	_, st, mock, mux := newTestServer(t)
	org := seedOrg(t, st)
	questions := seedCatalog(t, st, org.ID)

	replies := []struct {
		text     string
		wantStep string
	}{
		{"1", "question_0"},
		{"1", "question_1"},
		{"5", "question_2"},
		{"Great service", "completed"},
	}
	for i, r := range replies {
		rec, result := postWebhook(t, mux, org.WebhookSecret, inbound(r.text, fmt.Sprintf("msg-%d", i)))
		if rec.Code != http.StatusOK {
			t.Fatalf("reply %d: status = %d, body %s", i, rec.Code, rec.Body.String())
		}
		if !result.Success || result.Step != r.wantStep {
			t.Fatalf("reply %d: result = %+v, want success step %s", i, result, r.wantStep)
		}
	}

	// Consent prompt for question 1, then the two follow-ups, then closing.
	if len(mock.SentMessages) != 4 {
		t.Fatalf("outbound count = %d, want 4", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != flow.FormatQuestion(questions[0], 1) {
		t.Errorf("first outbound = %q, want formatted question 1", mock.SentMessages[0].Body)
	}
	if !strings.Contains(mock.SentMessages[3].Body, org.Name) {
		t.Errorf("closing message %q does not reference organization name", mock.SentMessages[3].Body)
	}

	sessions, err := st.ListSessions(org.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.Status != models.SessionCompleted {
		t.Errorf("session status = %s, want completed", sess.Status)
	}
	if sess.TotalScore != 5 {
		t.Errorf("total score = %d, want 5 (only the star answer is numeric)", sess.TotalScore)
	}
	if sess.CompletedAt == nil {
		t.Error("CompletedAt = nil, want timestamp")
	}

	responses, err := st.ListFeedbackResponses(sess.ID)
	if err != nil {
		t.Fatalf("ListFeedbackResponses() error = %v", err)
	}
	if len(responses) != 3 {
		t.Fatalf("response count = %d, want 3", len(responses))
	}

	// Terminal absorption: further input stays completed and creates nothing.
	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("hello again", "msg-9"))
	if rec.Code != http.StatusOK || result.Step != "completed" {
		t.Fatalf("post-completion reply: status %d step %q, want 200 completed", rec.Code, result.Step)
	}
	sessions, _ = st.ListSessions(org.ID)
	if len(sessions) != 1 {
		t.Errorf("session count after completion = %d, want still 1", len(sessions))
	}
	responses, _ = st.ListFeedbackResponses(sess.ID)
	if len(responses) != 3 {
		t.Errorf("response count after completion = %d, want still 3", len(responses))
	}
}

func TestWebhookConsentDecline(t *testing.T) {
	_, st, mock, mux := newTestServer(t)
	org := seedOrg(t, st)
	seedCatalog(t, st, org.ID)

	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("no", "msg-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if result.Step != "completed" {
		t.Errorf("step = %q, want completed", result.Step)
	}

	sessions, _ := st.ListSessions(org.ID)
	if len(sessions) != 0 {
		t.Errorf("session count = %d, want 0 after decline", len(sessions))
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != flow.DeclineMessage {
		t.Errorf("outbound = %+v, want single decline acknowledgement", mock.SentMessages)
	}
}

func TestWebhookInvalidAnswerRepeatsPrompt(t *testing.T) {
	_, st, mock, mux := newTestServer(t)
	org := seedOrg(t, st)
	questions := seedCatalog(t, st, org.ID)

	postWebhook(t, mux, org.WebhookSecret, inbound("yes", "msg-1"))

	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("abc", "msg-2"))
	if rec.Code != http.StatusOK || result.Step != "question_0" {
		t.Fatalf("invalid answer: status %d step %q, want 200 question_0", rec.Code, result.Step)
	}

	retry := mock.SentMessages[len(mock.SentMessages)-1].Body
	if !strings.Contains(retry, "between 1 and 2") {
		t.Errorf("retry prompt %q does not cite the option range", retry)
	}
	// The original prompt is reproduced byte for byte after the rejection.
	if !strings.HasSuffix(retry, flow.FormatQuestion(questions[0], 1)) {
		t.Errorf("retry prompt %q does not end with the original question prompt", retry)
	}

	// A second invalid answer yields the identical retry text.
	postWebhook(t, mux, org.WebhookSecret, inbound("0", "msg-3"))
	again := mock.SentMessages[len(mock.SentMessages)-1].Body
	if again != retry {
		t.Errorf("second retry prompt differs from first:\n%q\n%q", again, retry)
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	_, st, _, mux := newTestServer(t)
	org := seedOrg(t, st)

	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	progress, _ := st.GetConversationProgress(org.ID, "15551234567", org.SenderID)
	if progress != nil {
		t.Error("conversation state was created for a malformed request")
	}
}

func TestWebhookMissingFields(t *testing.T) {
	_, st, _, mux := newTestServer(t)
	seedOrg(t, st)

	rec, _ := postWebhook(t, mux, "", models.InboundMessage{To: "ACME", Text: "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing from", rec.Code)
	}
}

func TestWebhookUnknownSenderID(t *testing.T) {
	_, st, _, mux := newTestServer(t)
	seedOrg(t, st)

	rec, _ := postWebhook(t, mux, "", models.InboundMessage{To: "ZZZ", From: "15551234567", Text: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown sender id", rec.Code)
	}
}

func TestWebhookSignature(t *testing.T) {
	_, st, _, mux := newTestServer(t)
	org := seedOrg(t, st)
	seedCatalog(t, st, org.ID)

	// Wrong secret is rejected before any state is touched.
	rec, _ := postWebhook(t, mux, "wrong-secret", inbound("yes", "msg-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad signature", rec.Code)
	}
	progress, _ := st.GetConversationProgress(org.ID, "15551234567", org.SenderID)
	if progress != nil {
		t.Error("conversation state was created for an unauthenticated request")
	}

	// No signature header at all is accepted.
	rec, result := postWebhook(t, mux, "", inbound("yes", "msg-2"))
	if rec.Code != http.StatusOK || result.Step != "question_0" {
		t.Errorf("unsigned request: status %d step %q, want 200 question_0", rec.Code, result.Step)
	}
}

func TestWebhookDuplicateMessageID(t *testing.T) {
	_, st, mock, mux := newTestServer(t)
	org := seedOrg(t, st)
	seedCatalog(t, st, org.ID)

	postWebhook(t, mux, org.WebhookSecret, inbound("yes", "msg-1"))
	sentBefore := len(mock.SentMessages)

	// Provider re-delivers the same message: same step back, nothing sent.
	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("yes", "msg-1"))
	if rec.Code != http.StatusOK || result.Step != "question_0" {
		t.Fatalf("duplicate delivery: status %d step %q, want 200 question_0", rec.Code, result.Step)
	}
	if len(mock.SentMessages) != sentBefore {
		t.Errorf("outbound count = %d, want unchanged %d", len(mock.SentMessages), sentBefore)
	}

	// The re-delivery still resolved state, so it gets its own inbound
	// audit row.
	messages, err := st.ListConversationMessages(org.ID, "15551234567")
	if err != nil {
		t.Fatalf("ListConversationMessages() error = %v", err)
	}
	var inboundRows int
	for _, m := range messages {
		if m.Direction == models.DirectionInbound {
			inboundRows++
		}
	}
	if inboundRows != 2 {
		t.Errorf("inbound audit rows = %d, want 2 (one per delivery)", inboundRows)
	}
}

func TestWebhookEmptyCatalog(t *testing.T) {
	_, st, mock, mux := newTestServer(t)
	org := seedOrg(t, st)

	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("yes", "msg-1"))
	if rec.Code != http.StatusOK || result.Step != "completed" {
		t.Fatalf("empty catalog: status %d step %q, want 200 completed", rec.Code, result.Step)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != flow.EmptyCatalogMessage {
		t.Errorf("outbound = %+v, want the empty-catalog apology", mock.SentMessages)
	}
	sessions, _ := st.ListSessions(org.ID)
	if len(sessions) != 0 {
		t.Errorf("session count = %d, want 0 for empty catalog", len(sessions))
	}
}

// racingStore simulates a concurrent winner: after the first progress read
// it bumps the row version, so the caller's conditional update loses.
type racingStore struct {
	store.Store
	bumped bool
}

func (r *racingStore) GetConversationProgress(orgID, phone, senderID string) (*models.ConversationProgress, error) {
	p, err := r.Store.GetConversationProgress(orgID, phone, senderID)
	if err != nil || p == nil {
		return p, err
	}
	stale := *p
	if !r.bumped {
		r.bumped = true
		if err := r.Store.UpdateConversationProgress(*p, p.Version); err != nil {
			return nil, err
		}
	}
	return &stale, nil
}

func TestWebhookVersionConflict(t *testing.T) {
	st := store.NewInMemoryStore()
	mock := twiliosms.NewMockClient()
	s := NewServer(&racingStore{Store: st}, WithTwilioClient(mock))
	t.Cleanup(func() {
		s.sched.Stop()
		st.Close()
	})
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	org := seedOrg(t, st)
	seedCatalog(t, st, org.ID)
	if err := st.CreateConversationProgress(models.NewConversationProgress(org.ID, "15551234567", org.SenderID)); err != nil {
		t.Fatalf("CreateConversationProgress() error = %v", err)
	}

	// The losing request reports the winner's stored step and sends nothing.
	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("1", "msg-race"))
	if rec.Code != http.StatusOK || result.Step != "consent" {
		t.Fatalf("conflict: status %d step %q, want 200 consent", rec.Code, result.Step)
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("outbound count = %d, want 0 after losing the update race", len(mock.SentMessages))
	}

	// No session may be left behind by a request that made no transition.
	sessions, err := st.ListSessions(org.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("session count = %d, want 0", len(sessions))
	}

	stored, err := st.GetConversationProgress(org.ID, "15551234567", org.SenderID)
	if err != nil || stored == nil {
		t.Fatalf("GetConversationProgress() = %v, %v", stored, err)
	}
	if stored.Step.String() != "consent" || stored.Session.SessionID != "" {
		t.Errorf("stored progress = step %s session %q, want consent and no session ref", stored.Step, stored.Session.SessionID)
	}
}

func TestWebhookDeliveryFailureKeepsTransition(t *testing.T) {
	_, st, _, mux := newTestServer(t)

	// Gateway channel with no base URL configured: delivery is skipped as a
	// soft failure, the state transition must survive.
	org := models.Organization{
		ID:            "org-gw",
		Name:          "Acme Dental",
		SenderID:      "ACME",
		WebhookSecret: "topsecret",
		Channel:       models.ChannelGateway,
		CreatedAt:     time.Now().UTC(),
	}
	if err := st.CreateOrganization(org); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	seedCatalog(t, st, org.ID)

	rec, result := postWebhook(t, mux, org.WebhookSecret, inbound("1", "msg-1"))
	if rec.Code != http.StatusOK || result.Step != "question_0" {
		t.Fatalf("status %d step %q, want 200 question_0", rec.Code, result.Step)
	}

	stored, err := st.GetConversationProgress(org.ID, "15551234567", org.SenderID)
	if err != nil || stored == nil {
		t.Fatalf("GetConversationProgress() = %v, %v", stored, err)
	}
	if stored.Step.String() != "question_0" {
		t.Errorf("stored step = %s, want question_0", stored.Step)
	}
	sessions, _ := st.ListSessions(org.ID)
	if len(sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(sessions))
	}

	messages, err := st.ListConversationMessages(org.ID, "15551234567")
	if err != nil {
		t.Fatalf("ListConversationMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("audit row count = %d, want inbound + outbound", len(messages))
	}
	if messages[1].Direction != models.DirectionOutbound || messages[1].Delivered {
		t.Errorf("outbound audit row = %+v, want delivered=false", messages[1])
	}
}

func TestWebhookAuditTrail(t *testing.T) {
	_, st, _, mux := newTestServer(t)
	org := seedOrg(t, st)
	seedCatalog(t, st, org.ID)

	postWebhook(t, mux, org.WebhookSecret, inbound("yes", "msg-1"))

	messages, err := st.ListConversationMessages(org.ID, "15551234567")
	if err != nil {
		t.Fatalf("ListConversationMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("audit row count = %d, want inbound + outbound", len(messages))
	}
	if messages[0].Direction != models.DirectionInbound || messages[0].Body != "yes" {
		t.Errorf("first audit row = %+v, want inbound yes", messages[0])
	}
	if messages[1].Direction != models.DirectionOutbound || !messages[1].Delivered {
		t.Errorf("second audit row = %+v, want delivered outbound", messages[1])
	}
}
