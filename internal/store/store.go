// Package store provides storage backends for Replyline.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL stores selected by DSN detection.
package store

import (
	"errors"
	"time"

	"github.com/replyline/replyline/internal/models"
)

// Error variables shared across store implementations.
var (
	// ErrVersionConflict is returned when a conditional conversation update
	// finds a different version than the caller read. The losing write must
	// not be retried blindly; the caller re-reads and reconciles.
	ErrVersionConflict = errors.New("conversation progress version conflict")
	// ErrDuplicateResponse is returned when a response row already exists
	// for the (session, question) pair.
	ErrDuplicateResponse = errors.New("response already recorded for question")
)

// System setting keys.
const (
	// SettingGatewayBaseURL holds the base URL of the outbound SMS gateway.
	SettingGatewayBaseURL = "sms_gateway_base_url"
)

// Store is the persistence contract shared by all backends.
type Store interface {
	// Organizations
	CreateOrganization(org models.Organization) error
	GetOrganization(id string) (*models.Organization, error)
	GetOrganizationBySenderID(senderID string) (*models.Organization, error)
	ListOrganizations() ([]models.Organization, error)

	// Question catalog
	CreateQuestion(q models.Question) error
	ListActiveQuestions(orgID string) ([]models.Question, error)

	// Conversation progress. Updates are conditional on the version the
	// caller read and return ErrVersionConflict when it moved.
	GetConversationProgress(orgID, phone, senderID string) (*models.ConversationProgress, error)
	CreateConversationProgress(p models.ConversationProgress) error
	UpdateConversationProgress(p models.ConversationProgress, expectedVersion int64) error

	// Conversation audit log
	AddConversationMessage(m models.ConversationMessage) error
	ListConversationMessages(orgID, phone string) ([]models.ConversationMessage, error)

	// Feedback sessions and responses
	CreateSession(s models.FeedbackSession) error
	GetSession(id string) (*models.FeedbackSession, error)
	ListSessions(orgID string) ([]models.FeedbackSession, error)
	CompleteSession(id string, totalScore int, completedAt time.Time) error
	SetSessionSummary(id, summary string) error
	AddFeedbackResponse(r models.FeedbackResponse) error
	ListFeedbackResponses(sessionID string) ([]models.FeedbackResponse, error)

	// Campaigns
	CreateCampaign(c models.Campaign) error
	GetCampaign(id string) (*models.Campaign, error)
	ListCampaigns(orgID string) ([]models.Campaign, error)
	UpdateCampaignStatus(id string, status models.CampaignStatus, sent, failed int) error

	// System settings
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	Close() error
}
