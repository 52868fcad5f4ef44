package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/replyline/replyline/internal/flow"
	"github.com/replyline/replyline/internal/messaging"
	"github.com/replyline/replyline/internal/models"
	"github.com/replyline/replyline/internal/store"
	"github.com/replyline/replyline/internal/whatsapp"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 64 * 1024

// webhookHandler receives respondent replies from the SMS gateway and
// advances the conversation by exactly one step.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing inbound message", "path", r.URL.Path)

	// The signature covers the raw body, so read it before decoding.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.WebhookError{Error: "unreadable request body"})
		return
	}

	var msg models.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.WebhookError{Error: "invalid JSON payload"})
		return
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.webhookHandler: payload validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.WebhookError{Error: err.Error()})
		return
	}

	org, err := s.st.GetOrganizationBySenderID(msg.To)
	if err != nil {
		slog.Error("Server.webhookHandler: organization lookup failed", "error", err, "sender_id", msg.To)
		writeJSONResponse(w, http.StatusInternalServerError, models.WebhookError{Error: "internal error"})
		return
	}
	if org == nil {
		slog.Warn("Server.webhookHandler: unknown sender ID", "sender_id", msg.To)
		writeJSONResponse(w, http.StatusNotFound, models.WebhookError{Error: "unknown sender id"})
		return
	}

	// The signature header is optional, but when present it must verify.
	if sig := r.Header.Get(messaging.SignatureHeader); sig != "" {
		if !messaging.VerifySignature([]byte(org.WebhookSecret), body, sig) {
			slog.Warn("Server.webhookHandler: signature verification failed", "org", org.ID)
			writeJSONResponse(w, http.StatusUnauthorized, models.WebhookError{Error: "invalid signature"})
			return
		}
	}

	phone, err := messaging.CanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Server.webhookHandler: invalid from number", "error", err, "from", msg.From)
		writeJSONResponse(w, http.StatusBadRequest, models.WebhookError{Error: "invalid from number"})
		return
	}

	step, err := s.processInbound(r.Context(), *org, phone, msg.Text, msg.ID)
	if err != nil {
		slog.Error("Server.webhookHandler: conversation step failed", "error", err, "org", org.ID, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.WebhookError{Error: "internal error"})
		return
	}

	writeJSONResponse(w, http.StatusOK, models.WebhookResult{Success: true, Step: step})
}

// processInbound advances one conversation for one inbound message and
// performs all persistence and delivery. It returns the step the
// conversation ends on, which under a concurrent-update conflict is the step
// the winning writer stored.
func (s *Server) processInbound(ctx context.Context, org models.Organization, phone, text, messageID string) (string, error) {
	progress, err := s.st.GetConversationProgress(org.ID, phone, org.SenderID)
	if err != nil {
		return "", err
	}
	if progress == nil {
		fresh := models.NewConversationProgress(org.ID, phone, org.SenderID)
		if err := s.st.CreateConversationProgress(fresh); err != nil {
			return "", err
		}
		progress = &fresh
	}

	// Every request that resolved state gets an inbound audit row, even a
	// re-delivered one.
	s.audit(org.ID, phone, models.DirectionInbound, text, messageID, true)

	// Re-delivered provider message: acknowledge with the stored step and
	// change nothing else.
	if messageID != "" && progress.LastMessageID == messageID {
		slog.Info("Server.processInbound: duplicate message ID, no-op", "org", org.ID, "phone", phone, "message_id", messageID)
		return progress.Step.String(), nil
	}

	engine := flow.NewEngine(org)
	result, err := engine.Step(ctx, *progress, text, func(ctx context.Context) ([]models.Question, error) {
		return s.st.ListActiveQuestions(org.ID)
	})
	if err != nil {
		return "", err
	}

	// Mint the session ID before the state write so the progress row can
	// reference it; the session row itself is only created once the write
	// wins. A losing request must leave no session behind.
	if result.Effects.CreateSession {
		result.Session.SessionID = uuid.NewString()
	}

	updated := *progress
	updated.Step = result.Step
	updated.ConsentGiven = result.ConsentGiven
	updated.Session = result.Session
	updated.LastMessageID = messageID
	err = s.st.UpdateConversationProgress(updated, progress.Version)
	if errors.Is(err, store.ErrVersionConflict) {
		// A concurrent message won the write. Report the stored step, run
		// no side effects and send nothing: the winner already replied.
		stored, gerr := s.st.GetConversationProgress(org.ID, phone, org.SenderID)
		if gerr != nil || stored == nil {
			return "", err
		}
		slog.Info("Server.processInbound: lost conversation update race", "org", org.ID, "phone", phone)
		return stored.Step.String(), nil
	}
	if err != nil {
		return "", err
	}

	s.applyEffects(org, phone, result)

	if result.Reply != "" {
		s.send(ctx, org, phone, result.Reply)
	}
	return result.Step.String(), nil
}

// applyEffects executes the engine's side effects after the state write has
// won. The transition is already committed, so failures here are logged and
// not propagated.
func (s *Server) applyEffects(org models.Organization, phone string, result flow.StepResult) {
	now := time.Now().UTC()
	if result.Effects.CreateSession {
		if err := s.st.CreateSession(models.FeedbackSession{
			ID:        result.Session.SessionID,
			OrgID:     org.ID,
			Phone:     phone,
			Status:    models.SessionInProgress,
			Origin:    models.OriginSMS,
			CreatedAt: now,
		}); err != nil {
			slog.Error("Server.applyEffects: failed to create session", "error", err, "session", result.Session.SessionID)
		}
	}
	if ins := result.Effects.InsertResponse; ins != nil {
		err := s.st.AddFeedbackResponse(models.FeedbackResponse{
			ID:         uuid.NewString(),
			SessionID:  result.Session.SessionID,
			QuestionID: ins.Question.ID,
			Category:   ins.Question.Category,
			Value:      ins.Value,
			Score:      ins.Score,
			Snapshot:   ins.Question,
			CreatedAt:  now,
		})
		switch {
		case errors.Is(err, store.ErrDuplicateResponse):
			slog.Warn("Server.applyEffects: duplicate response row skipped", "session", result.Session.SessionID, "question", ins.Question.ID)
		case err != nil:
			slog.Error("Server.applyEffects: failed to record response", "error", err, "session", result.Session.SessionID)
		}
	}
	if done := result.Effects.CompleteSession; done != nil {
		if err := s.st.CompleteSession(result.Session.SessionID, done.TotalScore, now); err != nil {
			slog.Error("Server.applyEffects: failed to complete session", "error", err, "session", result.Session.SessionID)
			return
		}
		s.maybeSummarize(result.Session.SessionID)
	}
}

// send delivers an outbound prompt and records it in the conversation audit
// log. Delivery failures are recorded, not propagated: the state transition
// already happened.
func (s *Server) send(ctx context.Context, org models.Organization, phone, message string) {
	err := s.deliveryFor(org).Deliver(ctx, org, phone, message)
	delivered := err == nil
	if err != nil {
		if errors.Is(err, messaging.ErrNotConfigured) {
			slog.Warn("Server.send: delivery channel not configured", "org", org.ID, "channel", org.Channel)
		} else {
			slog.Error("Server.send: delivery failed", "error", err, "org", org.ID, "to", phone)
		}
	}
	s.audit(org.ID, phone, models.DirectionOutbound, message, "", delivered)
}

// audit appends a conversation log row. Audit failures are logged and
// swallowed so they never interrupt a conversation.
func (s *Server) audit(orgID, phone string, direction models.MessageDirection, body, messageID string, delivered bool) {
	err := s.st.AddConversationMessage(models.ConversationMessage{
		OrgID:     orgID,
		Phone:     phone,
		Direction: direction,
		Body:      body,
		MessageID: messageID,
		Delivered: delivered,
		Time:      time.Now().Unix(),
	})
	if err != nil {
		slog.Error("Server.audit: failed to record conversation message", "error", err, "org", orgID, "phone", phone)
	}
}

// maybeSummarize generates and stores an insights summary for a completed
// session, off the request path.
func (s *Server) maybeSummarize(sessionID string) {
	if s.insights == nil || sessionID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		session, err := s.st.GetSession(sessionID)
		if err != nil || session == nil {
			slog.Error("Server.maybeSummarize: failed to load session", "error", err, "session", sessionID)
			return
		}
		responses, err := s.st.ListFeedbackResponses(sessionID)
		if err != nil {
			slog.Error("Server.maybeSummarize: failed to load responses", "error", err, "session", sessionID)
			return
		}
		summary, err := s.insights.SummarizeFeedback(ctx, *session, responses)
		if err != nil {
			slog.Error("Server.maybeSummarize: summary generation failed", "error", err, "session", sessionID)
			return
		}
		if err := s.st.SetSessionSummary(sessionID, summary); err != nil {
			slog.Error("Server.maybeSummarize: failed to store summary", "error", err, "session", sessionID)
			return
		}
		slog.Info("Server.maybeSummarize: summary stored", "session", sessionID)
	}()
}

// handleWhatsAppInbound routes an inbound WhatsApp message into the same
// conversation flow as the SMS webhook. Messages go to the first
// organization configured for the whatsapp channel; one linked WhatsApp
// account serves one organization.
func (s *Server) handleWhatsAppInbound(msg whatsapp.InboundMessage) {
	orgs, err := s.st.ListOrganizations()
	if err != nil {
		slog.Error("Server.handleWhatsAppInbound: organization list failed", "error", err)
		return
	}
	var target *models.Organization
	for i := range orgs {
		if orgs[i].Channel == models.ChannelWhatsApp {
			target = &orgs[i]
			break
		}
	}
	if target == nil {
		slog.Warn("Server.handleWhatsAppInbound: no organization configured for whatsapp channel", "from", msg.From)
		return
	}

	phone, err := messaging.CanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Server.handleWhatsAppInbound: invalid sender", "error", err, "from", msg.From)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.processInbound(ctx, *target, phone, msg.Body, msg.MessageID); err != nil {
		slog.Error("Server.handleWhatsAppInbound: conversation step failed", "error", err, "org", target.ID, "phone", phone)
	}
}
