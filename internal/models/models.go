// Package models defines the core data structures for Replyline.
//
// It includes organizations, question catalogs, feedback sessions and
// responses, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// QuestionType defines how a question's answer is collected and validated.
type QuestionType string

const (
	// QuestionTypeSingleChoice asks the respondent to pick one numbered option.
	QuestionTypeSingleChoice QuestionType = "single_choice"
	// QuestionTypeStar collects a star rating on a numeric scale.
	QuestionTypeStar QuestionType = "star"
	// QuestionTypeNPS collects a net-promoter-style numeric rating.
	QuestionTypeNPS QuestionType = "nps"
	// QuestionTypeText collects a free-form text answer.
	QuestionTypeText QuestionType = "text"
)

// Default rating bounds applied when a rating question carries no scale.
const (
	DefaultScaleMin = 1
	DefaultScaleMax = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyOrganizationName = errors.New("organization name cannot be empty")
	ErrEmptySenderID         = errors.New("sender ID cannot be empty")
	ErrEmptyQuestionText     = errors.New("question text cannot be empty")
	ErrInvalidQuestionType   = errors.New("invalid question type")
	ErrMissingOptions        = errors.New("options are required for single-choice questions")
	ErrInvalidScaleBounds    = errors.New("scale min must be less than scale max")
	ErrEmptyCampaignName     = errors.New("campaign name cannot be empty")
	ErrNoCampaignRecipients  = errors.New("campaign requires at least one recipient")
)

// IsValidQuestionType checks if the given question type is supported by the
// SMS flow.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeSingleChoice, QuestionTypeStar, QuestionTypeNPS, QuestionTypeText:
		return true
	default:
		return false
	}
}

// IsRatingType reports whether the question type produces a numeric score.
func IsRatingType(qt QuestionType) bool {
	return qt == QuestionTypeStar || qt == QuestionTypeNPS
}

// DeliveryChannel selects how outbound prompts reach a respondent.
type DeliveryChannel string

const (
	// ChannelGateway delivers through the signed HTTP SMS gateway.
	ChannelGateway DeliveryChannel = "gateway"
	// ChannelTwilio delivers through the Twilio REST API.
	ChannelTwilio DeliveryChannel = "twilio"
	// ChannelWhatsApp delivers through a linked WhatsApp account.
	ChannelWhatsApp DeliveryChannel = "whatsapp"
)

// Organization is a tenant: it owns a question catalog, an SMS sender ID and
// a webhook secret used to authenticate gateway callbacks.
type Organization struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SenderID        string          `json:"sender_id"`
	WebhookSecret   string          `json:"webhook_secret,omitempty"`
	GatewayUsername string          `json:"gateway_username,omitempty"`
	GatewayAPIKey   string          `json:"gateway_api_key,omitempty"`
	Channel         DeliveryChannel `json:"channel,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the fields required to register an organization.
func (o *Organization) Validate() error {
	if o.Name == "" {
		return ErrEmptyOrganizationName
	}
	if o.SenderID == "" {
		return ErrEmptySenderID
	}
	return nil
}

// QuestionOption is one selectable choice of a single-choice question.
type QuestionOption struct {
	Text         string `json:"text"`
	Value        string `json:"value,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

// AnswerValue returns the value recorded when this option is chosen,
// falling back to the display text when no distinct value is configured.
func (o QuestionOption) AnswerValue() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Text
}

// QuestionScale bounds a rating question and optionally labels its endpoints.
type QuestionScale struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	MinLabel string `json:"min_label,omitempty"`
	MaxLabel string `json:"max_label,omitempty"`
}

// Question is one entry of an organization's feedback catalog. A snapshot of
// the question is captured with every answer, so answered questions keep the
// exact definition that was shown even if the catalog changes later.
type Question struct {
	ID           string           `json:"id"`
	OrgID        string           `json:"org_id"`
	Text         string           `json:"text"`
	Type         QuestionType     `json:"type"`
	Required     bool             `json:"required"`
	DisplayOrder int              `json:"display_order"`
	Category     string           `json:"category,omitempty"`
	Active       bool             `json:"active"`
	Options      []QuestionOption `json:"options,omitempty"`
	Scale        *QuestionScale   `json:"scale,omitempty"`
}

// Validate performs validation on a Question structure.
func (q *Question) Validate() error {
	if q.Text == "" {
		return ErrEmptyQuestionText
	}
	if !IsValidQuestionType(q.Type) {
		return ErrInvalidQuestionType
	}
	if q.Type == QuestionTypeSingleChoice && len(q.Options) == 0 {
		return ErrMissingOptions
	}
	if q.Scale != nil && q.Scale.Min >= q.Scale.Max {
		return ErrInvalidScaleBounds
	}
	return nil
}

// ScaleBounds returns the active rating bounds for the question, applying
// the defaults when no scale is attached.
func (q *Question) ScaleBounds() (min, max int) {
	if q.Scale != nil {
		return q.Scale.Min, q.Scale.Max
	}
	return DefaultScaleMin, DefaultScaleMax
}

// SessionStatus represents the lifecycle state of a feedback session.
type SessionStatus string

const (
	// SessionInProgress indicates the respondent is still answering.
	SessionInProgress SessionStatus = "in_progress"
	// SessionCompleted indicates all questions were answered.
	SessionCompleted SessionStatus = "completed"
)

// OriginSMS tags sessions collected through the SMS conversation flow.
const OriginSMS = "sms"

// FeedbackSession is created the moment consent is affirmed and completed
// when the last question is answered.
type FeedbackSession struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id"`
	Phone       string        `json:"phone"`
	Status      SessionStatus `json:"status"`
	Origin      string        `json:"origin"`
	TotalScore  int           `json:"total_score"`
	Summary     string        `json:"summary,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// FeedbackResponse is one answered question within a session. Rows are
// append-only and unique per (session, question).
type FeedbackResponse struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id"`
	Category   string    `json:"category,omitempty"`
	Value      string    `json:"value"`
	Score      *int      `json:"score,omitempty"`
	Snapshot   Question  `json:"snapshot"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageDirection distinguishes audit-log rows.
type MessageDirection string

const (
	// DirectionInbound marks a message received from a respondent.
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound marks a prompt sent to a respondent.
	DirectionOutbound MessageDirection = "outbound"
)

// ConversationMessage is one audit-log row of the SMS conversation history.
type ConversationMessage struct {
	OrgID     string           `json:"org_id"`
	Phone     string           `json:"phone"`
	Direction MessageDirection `json:"direction"`
	Body      string           `json:"body"`
	MessageID string           `json:"message_id,omitempty"`
	Delivered bool             `json:"delivered"`
	Time      int64            `json:"time"`
}

// CampaignStatus represents the lifecycle state of an SMS campaign.
type CampaignStatus string

const (
	// CampaignPending indicates the campaign was accepted but not yet sent.
	CampaignPending CampaignStatus = "pending"
	// CampaignScheduled indicates the campaign waits on a cron schedule.
	CampaignScheduled CampaignStatus = "scheduled"
	// CampaignSent indicates the send pass finished.
	CampaignSent CampaignStatus = "sent"
	// CampaignFailed indicates every recipient failed.
	CampaignFailed CampaignStatus = "failed"
)

// Campaign is a consent-prompt blast to a list of phone numbers. Each
// recipient who has no conversation yet gets a fresh consent-step
// conversation and the canonical consent prompt.
type Campaign struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	Name        string         `json:"name"`
	Recipients  []string       `json:"recipients"`
	Schedule    string         `json:"schedule,omitempty"` // cron expression; empty means send immediately
	Status      CampaignStatus `json:"status"`
	SentCount   int            `json:"sent_count"`
	FailedCount int            `json:"failed_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Validate checks the fields required to accept a campaign.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return ErrEmptyCampaignName
	}
	if len(c.Recipients) == 0 {
		return ErrNoCampaignRecipients
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusScheduled indicates an API request resulted in scheduled work.
	APIStatusScheduled APIStatus = "scheduled"
)

// APIResponse is the standard JSON envelope of the admin API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Scheduled creates a scheduled API response with a message.
func Scheduled(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusScheduled), Message: message, Result: result}
}
