// Package api provides HTTP handlers and the main API server logic for
// Replyline.
//
// It exposes the gateway-facing webhook that drives SMS feedback
// conversations, plus an admin REST API for organizations, questions,
// campaigns and collected sessions.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/replyline/replyline/internal/messaging"
	"github.com/replyline/replyline/internal/models"
	"github.com/replyline/replyline/internal/scheduler"
	"github.com/replyline/replyline/internal/store"
	"github.com/replyline/replyline/internal/twiliosms"
	"github.com/replyline/replyline/internal/whatsapp"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Summarizer produces a prose summary of a completed feedback session.
type Summarizer interface {
	SummarizeFeedback(ctx context.Context, session models.FeedbackSession, responses []models.FeedbackResponse) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	JWTSecret      string
	GatewayBaseURL string
	TwilioClient   twiliosms.Sender
	WhatsAppClient *whatsapp.Client
	Insights       Summarizer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJWTSecret sets the secret used to verify admin API bearer tokens.
// When empty, admin authentication is disabled.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) { o.JWTSecret = secret }
}

// WithGatewayBaseURL seeds the outbound SMS gateway base URL into the
// system settings at startup. Organizations on the gateway channel cannot
// send until a base URL is configured here or via the settings table.
func WithGatewayBaseURL(url string) Option {
	return func(o *Opts) { o.GatewayBaseURL = url }
}

// WithTwilioClient enables Twilio delivery for organizations configured with
// the twilio channel.
func WithTwilioClient(client twiliosms.Sender) Option {
	return func(o *Opts) { o.TwilioClient = client }
}

// WithWhatsAppClient enables WhatsApp delivery and inbound handling for
// organizations configured with the whatsapp channel.
func WithWhatsAppClient(client *whatsapp.Client) Option {
	return func(o *Opts) { o.WhatsAppClient = client }
}

// WithInsights enables feedback summaries for completed sessions.
func WithInsights(s Summarizer) Option {
	return func(o *Opts) { o.Insights = s }
}

// Server wires the store, delivery channels and scheduler behind the HTTP
// surface.
type Server struct {
	st        store.Store
	addr      string
	jwtSecret string
	sched     *scheduler.Scheduler
	insights  Summarizer

	gateway  *messaging.GatewayNotifier
	twilio   *messaging.TwilioNotifier
	whatsApp *messaging.WhatsAppNotifier

	waClient *whatsapp.Client
}

// NewServer builds a server around an already-open store.
func NewServer(st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.JWTSecret == "" {
		slog.Warn("Admin API authentication disabled: no JWT secret configured")
	}
	if cfg.GatewayBaseURL != "" {
		if err := st.SetSetting(store.SettingGatewayBaseURL, cfg.GatewayBaseURL); err != nil {
			slog.Error("NewServer: failed to seed gateway base URL setting", "error", err)
		}
	}

	return &Server{
		st:        st,
		addr:      cfg.Addr,
		jwtSecret: cfg.JWTSecret,
		sched:     scheduler.NewScheduler(),
		insights:  cfg.Insights,
		gateway:   messaging.NewGatewayNotifier(st, store.SettingGatewayBaseURL),
		twilio:    messaging.NewTwilioNotifier(cfg.TwilioClient),
		whatsApp:  messaging.NewWhatsAppNotifier(cfg.WhatsAppClient),
		waClient:  cfg.WhatsAppClient,
	}
}

// Run opens the store, builds the server and blocks serving HTTP.
func Run(storeOpts []store.Option, apiOpts []Option) error {
	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	s := NewServer(st, apiOpts...)
	defer s.sched.Stop()

	if err := s.rescheduleCampaigns(); err != nil {
		slog.Error("Failed to re-register scheduled campaigns", "error", err)
	}

	if s.waClient != nil {
		s.waClient.OnInbound(s.handleWhatsAppInbound)
		defer s.waClient.Disconnect()
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	slog.Info("Replyline API listening", "addr", s.addr)
	if err := http.ListenAndServe(s.addr, mux); err != nil {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// openStore picks the SQL backend from the DSN carried in the options.
func openStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/sms", s.webhookHandler)
	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("POST /api/organizations", s.requireAuth(s.createOrganizationHandler))
	mux.HandleFunc("GET /api/organizations", s.requireAuth(s.listOrganizationsHandler))
	mux.HandleFunc("GET /api/organizations/{id}", s.requireAuth(s.getOrganizationHandler))
	mux.HandleFunc("POST /api/organizations/{id}/questions", s.requireAuth(s.createQuestionHandler))
	mux.HandleFunc("GET /api/organizations/{id}/questions", s.requireAuth(s.listQuestionsHandler))
	mux.HandleFunc("POST /api/organizations/{id}/campaigns", s.requireAuth(s.createCampaignHandler))
	mux.HandleFunc("GET /api/organizations/{id}/campaigns", s.requireAuth(s.listCampaignsHandler))
	mux.HandleFunc("GET /api/organizations/{id}/sessions", s.requireAuth(s.listSessionsHandler))
	mux.HandleFunc("GET /api/organizations/{id}/conversations/{phone}", s.requireAuth(s.listConversationHandler))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.getSessionHandler))
	mux.HandleFunc("POST /api/sessions/{id}/summary", s.requireAuth(s.summarizeSessionHandler))
	mux.HandleFunc("GET /api/stats", s.requireAuth(s.statsHandler))
}

// deliveryFor picks the notifier for the organization's configured channel.
// The HTTP gateway is the default.
func (s *Server) deliveryFor(org models.Organization) messaging.Notifier {
	switch org.Channel {
	case models.ChannelTwilio:
		return s.twilio
	case models.ChannelWhatsApp:
		return s.whatsApp
	default:
		return s.gateway
	}
}
