package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/replyline/replyline/internal/flow"
	"github.com/replyline/replyline/internal/messaging"
	"github.com/replyline/replyline/internal/models"
	"github.com/replyline/replyline/internal/scheduler"
)

// newWebhookSecret mints a random shared secret for a new organization.
func newWebhookSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the host is broken; fall back to a UUID
		// rather than a predictable value.
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

func (s *Server) createOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var org models.Organization
	if err := json.NewDecoder(r.Body).Decode(&org); err != nil {
		slog.Warn("Server.createOrganizationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := org.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	existing, err := s.st.GetOrganizationBySenderID(org.SenderID)
	if err != nil {
		slog.Error("Server.createOrganizationHandler: sender ID lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create organization"))
		return
	}
	if existing != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error("Sender ID already registered"))
		return
	}

	org.ID = uuid.NewString()
	if org.WebhookSecret == "" {
		org.WebhookSecret = newWebhookSecret()
	}
	if org.Channel == "" {
		org.Channel = models.ChannelGateway
	}
	org.CreatedAt = time.Now().UTC()

	if err := s.st.CreateOrganization(org); err != nil {
		slog.Error("Server.createOrganizationHandler: store insert failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create organization"))
		return
	}
	slog.Info("Organization registered", "org", org.ID, "sender_id", org.SenderID, "channel", org.Channel)
	writeJSONResponse(w, http.StatusCreated, models.Success(org))
}

func (s *Server) listOrganizationsHandler(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.st.ListOrganizations()
	if err != nil {
		slog.Error("Server.listOrganizationsHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list organizations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orgs))
}

func (s *Server) getOrganizationHandler(w http.ResponseWriter, r *http.Request) {
	org, err := s.st.GetOrganization(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.getOrganizationHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load organization"))
		return
	}
	if org == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Organization not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(org))
}

func (s *Server) createQuestionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	orgID := r.PathValue("id")
	org, err := s.st.GetOrganization(orgID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load organization"))
		return
	}
	if org == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Organization not found"))
		return
	}

	var req struct {
		models.Question
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createQuestionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	q := req.Question
	q.Active = req.Active == nil || *req.Active
	q.OrgID = orgID
	if err := q.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	q.ID = uuid.NewString()

	if err := s.st.CreateQuestion(q); err != nil {
		slog.Error("Server.createQuestionHandler: store insert failed", "error", err, "org", orgID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create question"))
		return
	}
	slog.Info("Question created", "org", orgID, "question", q.ID, "type", q.Type)
	writeJSONResponse(w, http.StatusCreated, models.Success(q))
}

func (s *Server) listQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	questions, err := s.st.ListActiveQuestions(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.listQuestionsHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list questions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(questions))
}

func (s *Server) createCampaignHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	orgID := r.PathValue("id")
	org, err := s.st.GetOrganization(orgID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load organization"))
		return
	}
	if org == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Organization not found"))
		return
	}

	var c models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		slog.Warn("Server.createCampaignHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	c.OrgID = orgID
	if err := c.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()

	if c.Schedule == "" {
		c.Status = models.CampaignPending
		if err := s.st.CreateCampaign(c); err != nil {
			slog.Error("Server.createCampaignHandler: store insert failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create campaign"))
			return
		}
		s.sendCampaign(r.Context(), *org, c)
		stored, err := s.st.GetCampaign(c.ID)
		if err != nil || stored == nil {
			writeJSONResponse(w, http.StatusCreated, models.Success(c))
			return
		}
		writeJSONResponse(w, http.StatusCreated, models.Success(stored))
		return
	}

	if err := scheduler.ValidateExpr(c.Schedule); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid cron expression"))
		return
	}
	c.Status = models.CampaignScheduled
	if err := s.st.CreateCampaign(c); err != nil {
		slog.Error("Server.createCampaignHandler: store insert failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create campaign"))
		return
	}
	if err := s.scheduleCampaign(*org, c); err != nil {
		slog.Error("Server.createCampaignHandler: failed to schedule job", "error", err, "campaign", c.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule campaign"))
		return
	}
	slog.Info("Campaign scheduled", "org", orgID, "campaign", c.ID, "schedule", c.Schedule)
	writeJSONResponse(w, http.StatusCreated, models.Scheduled("Campaign scheduled", c))
}

// campaignSendTimeout bounds one cron-triggered send pass.
const campaignSendTimeout = 5 * time.Minute

// scheduleCampaign registers a cron job running a send pass for the campaign.
func (s *Server) scheduleCampaign(org models.Organization, c models.Campaign) error {
	return s.sched.AddJob(c.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), campaignSendTimeout)
		defer cancel()
		s.sendCampaign(ctx, org, c)
	})
}

// rescheduleCampaigns re-registers cron jobs for campaigns stored as
// scheduled. Jobs live in process memory only, so every restart rebuilds
// them from the store.
func (s *Server) rescheduleCampaigns() error {
	orgs, err := s.st.ListOrganizations()
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}
	var restored int
	for _, org := range orgs {
		campaigns, err := s.st.ListCampaigns(org.ID)
		if err != nil {
			return fmt.Errorf("failed to list campaigns for %s: %w", org.ID, err)
		}
		for _, c := range campaigns {
			if c.Status != models.CampaignScheduled || c.Schedule == "" {
				continue
			}
			if err := s.scheduleCampaign(org, c); err != nil {
				slog.Error("Server.rescheduleCampaigns: failed to re-register campaign", "error", err, "campaign", c.ID)
				continue
			}
			restored++
		}
	}
	if restored > 0 {
		slog.Info("Re-registered scheduled campaigns", "count", restored)
	}
	return nil
}

// sendCampaign opens (or re-prompts) a consent conversation for every
// recipient and records the per-recipient outcome on the campaign.
func (s *Server) sendCampaign(ctx context.Context, org models.Organization, c models.Campaign) {
	var sent, failed int
	for _, recipient := range c.Recipients {
		phone, err := messaging.CanonicalizeRecipient(recipient)
		if err != nil {
			slog.Warn("Server.sendCampaign: skipping invalid recipient", "error", err, "campaign", c.ID, "recipient", recipient)
			failed++
			continue
		}

		progress, err := s.st.GetConversationProgress(org.ID, phone, org.SenderID)
		if err != nil {
			slog.Error("Server.sendCampaign: progress lookup failed", "error", err, "campaign", c.ID, "phone", phone)
			failed++
			continue
		}
		if progress != nil && !progress.Step.IsTerminal() {
			// An open conversation already owns this phone; do not restart it.
			slog.Debug("Server.sendCampaign: conversation already open, skipping", "campaign", c.ID, "phone", phone)
			continue
		}
		if progress == nil {
			fresh := models.NewConversationProgress(org.ID, phone, org.SenderID)
			if err := s.st.CreateConversationProgress(fresh); err != nil {
				slog.Error("Server.sendCampaign: failed to create progress", "error", err, "campaign", c.ID, "phone", phone)
				failed++
				continue
			}
		} else {
			// Completed earlier; restart from consent for the new campaign.
			restarted := *progress
			restarted.Step = models.ConsentStep()
			restarted.ConsentGiven = false
			restarted.Session = models.SessionData{}
			restarted.LastMessageID = ""
			if err := s.st.UpdateConversationProgress(restarted, progress.Version); err != nil {
				slog.Error("Server.sendCampaign: failed to reset progress", "error", err, "campaign", c.ID, "phone", phone)
				failed++
				continue
			}
		}

		prompt := flow.ConsentPrompt(org.Name)
		if err := s.deliveryFor(org).Deliver(ctx, org, phone, prompt); err != nil {
			slog.Error("Server.sendCampaign: delivery failed", "error", err, "campaign", c.ID, "phone", phone)
			s.audit(org.ID, phone, models.DirectionOutbound, prompt, "", false)
			failed++
			continue
		}
		s.audit(org.ID, phone, models.DirectionOutbound, prompt, "", true)
		sent++
	}

	status := models.CampaignSent
	if sent == 0 && failed > 0 {
		status = models.CampaignFailed
	}
	if err := s.st.UpdateCampaignStatus(c.ID, status, sent, failed); err != nil {
		slog.Error("Server.sendCampaign: failed to update campaign status", "error", err, "campaign", c.ID)
	}
	slog.Info("Campaign send pass finished", "campaign", c.ID, "sent", sent, "failed", failed, "status", status)
}

func (s *Server) listCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.st.ListCampaigns(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.listCampaignsHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list campaigns"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(campaigns))
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.st.ListSessions(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.listSessionsHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// sessionDetail is the get-session result shape: the session plus its
// response rows.
type sessionDetail struct {
	Session   models.FeedbackSession    `json:"session"`
	Responses []models.FeedbackResponse `json:"responses"`
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.st.GetSession(id)
	if err != nil {
		slog.Error("Server.getSessionHandler: store query failed", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	responses, err := s.st.ListFeedbackResponses(id)
	if err != nil {
		slog.Error("Server.getSessionHandler: responses query failed", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load responses"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionDetail{Session: *session, Responses: responses}))
}

func (s *Server) summarizeSessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Insights not configured"))
		return
	}
	id := r.PathValue("id")
	session, err := s.st.GetSession(id)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if session == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	responses, err := s.st.ListFeedbackResponses(id)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load responses"))
		return
	}

	summary, err := s.insights.SummarizeFeedback(r.Context(), *session, responses)
	if err != nil {
		slog.Error("Server.summarizeSessionHandler: summary generation failed", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate summary"))
		return
	}
	if err := s.st.SetSessionSummary(id, summary); err != nil {
		slog.Error("Server.summarizeSessionHandler: failed to store summary", "error", err, "session", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to store summary"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Summary generated", summary))
}

func (s *Server) listConversationHandler(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("id")
	phone, err := messaging.CanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
		return
	}
	messages, err := s.st.ListConversationMessages(orgID, phone)
	if err != nil {
		slog.Error("Server.listConversationHandler: store query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// statsResult aggregates collection activity across all organizations.
type statsResult struct {
	Organizations     int `json:"organizations"`
	SessionsTotal     int `json:"sessions_total"`
	SessionsCompleted int `json:"sessions_completed"`
	SessionsOpen      int `json:"sessions_open"`
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.st.ListOrganizations()
	if err != nil {
		slog.Error("Server.statsHandler: organization query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute stats"))
		return
	}

	stats := statsResult{Organizations: len(orgs)}
	for _, org := range orgs {
		sessions, err := s.st.ListSessions(org.ID)
		if err != nil {
			slog.Error("Server.statsHandler: session query failed", "error", err, "org", org.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute stats"))
			return
		}
		stats.SessionsTotal += len(sessions)
		for _, sess := range sessions {
			if sess.Status == models.SessionCompleted {
				stats.SessionsCompleted++
			} else {
				stats.SessionsOpen++
			}
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
