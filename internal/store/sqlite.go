// Package store provides storage backends for Replyline.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/replyline/replyline/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the configured DSN (a file
// path). The containing directory is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func (s *SQLiteStore) CreateOrganization(org models.Organization) error {
	_, err := s.db.Exec(`INSERT INTO organizations (id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.SenderID, org.WebhookSecret, org.GatewayUsername, org.GatewayAPIKey, string(org.Channel), org.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateOrganization failed", "error", err, "org", org.ID)
		return fmt.Errorf("failed to insert organization %s: %w", org.ID, err)
	}
	slog.Debug("SQLiteStore CreateOrganization succeeded", "org", org.ID)
	return nil
}

func (s *SQLiteStore) GetOrganization(id string) (*models.Organization, error) {
	row := s.db.QueryRow(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations WHERE id = ?`, id)
	return scanOrganizationRow(row)
}

func (s *SQLiteStore) GetOrganizationBySenderID(senderID string) (*models.Organization, error) {
	row := s.db.QueryRow(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations WHERE sender_id = ?`, senderID)
	return scanOrganizationRow(row)
}

func (s *SQLiteStore) ListOrganizations() ([]models.Organization, error) {
	rows, err := s.db.Query(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListOrganizations query failed", "error", err)
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *SQLiteStore) CreateQuestion(q models.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO questions (id, org_id, text, type, required, display_order, category, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.OrgID, q.Text, string(q.Type), q.Required, q.DisplayOrder, q.Category, q.Active)
	if err != nil {
		slog.Error("SQLiteStore CreateQuestion failed", "error", err, "question", q.ID)
		return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
	}
	for _, opt := range q.Options {
		if _, err := tx.Exec(`INSERT INTO question_options (question_id, text, value, display_order) VALUES (?, ?, ?, ?)`,
			q.ID, opt.Text, opt.Value, opt.DisplayOrder); err != nil {
			return fmt.Errorf("failed to insert option for question %s: %w", q.ID, err)
		}
	}
	if q.Scale != nil {
		if _, err := tx.Exec(`INSERT INTO question_scales (question_id, min, max, min_label, max_label) VALUES (?, ?, ?, ?, ?)`,
			q.ID, q.Scale.Min, q.Scale.Max, q.Scale.MinLabel, q.Scale.MaxLabel); err != nil {
			return fmt.Errorf("failed to insert scale for question %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit question %s: %w", q.ID, err)
	}
	slog.Debug("SQLiteStore CreateQuestion succeeded", "question", q.ID, "org", q.OrgID)
	return nil
}

func (s *SQLiteStore) ListActiveQuestions(orgID string) ([]models.Question, error) {
	rows, err := s.db.Query(`SELECT id, org_id, text, type, required, display_order, category, active
		FROM questions WHERE org_id = ? AND active = 1 ORDER BY display_order`, orgID)
	if err != nil {
		slog.Error("SQLiteStore ListActiveQuestions query failed", "error", err, "org", orgID)
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var qt string
		if err := rows.Scan(&q.ID, &q.OrgID, &q.Text, &qt, &q.Required, &q.DisplayOrder, &q.Category, &q.Active); err != nil {
			return nil, fmt.Errorf("failed to scan question row: %w", err)
		}
		q.Type = models.QuestionType(qt)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate question rows: %w", err)
	}

	for i := range questions {
		if err := s.loadQuestionDetails(&questions[i]); err != nil {
			return nil, err
		}
	}
	slog.Debug("SQLiteStore ListActiveQuestions succeeded", "org", orgID, "count", len(questions))
	return questions, nil
}

func (s *SQLiteStore) loadQuestionDetails(q *models.Question) error {
	rows, err := s.db.Query(`SELECT text, value, display_order FROM question_options WHERE question_id = ? ORDER BY display_order`, q.ID)
	if err != nil {
		return fmt.Errorf("failed to query options for question %s: %w", q.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var opt models.QuestionOption
		if err := rows.Scan(&opt.Text, &opt.Value, &opt.DisplayOrder); err != nil {
			return fmt.Errorf("failed to scan option row: %w", err)
		}
		q.Options = append(q.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var scale models.QuestionScale
	err = s.db.QueryRow(`SELECT min, max, min_label, max_label FROM question_scales WHERE question_id = ?`, q.ID).
		Scan(&scale.Min, &scale.Max, &scale.MinLabel, &scale.MaxLabel)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query scale for question %s: %w", q.ID, err)
	}
	q.Scale = &scale
	return nil
}

func (s *SQLiteStore) GetConversationProgress(orgID, phone, senderID string) (*models.ConversationProgress, error) {
	row := s.db.QueryRow(`SELECT org_id, phone, sender_id, step, consent_given, session_data, last_message_id, version, created_at, updated_at
		FROM sms_conversation_progress WHERE org_id = ? AND phone = ? AND sender_id = ?`, orgID, phone, senderID)
	p, err := scanProgressRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationProgress not found", "org", orgID, "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationProgress failed", "error", err, "org", orgID, "phone", phone)
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) CreateConversationProgress(p models.ConversationProgress) error {
	sessionJSON, err := marshalSessionData(p.Session)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO sms_conversation_progress (org_id, phone, sender_id, step, consent_given, session_data, last_message_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OrgID, p.Phone, p.SenderID, p.Step.String(), p.ConsentGiven, sessionJSON, p.LastMessageID, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversationProgress failed", "error", err, "org", p.OrgID, "phone", p.Phone)
		return fmt.Errorf("failed to insert conversation progress: %w", err)
	}
	slog.Debug("SQLiteStore CreateConversationProgress succeeded", "org", p.OrgID, "phone", p.Phone)
	return nil
}

func (s *SQLiteStore) UpdateConversationProgress(p models.ConversationProgress, expectedVersion int64) error {
	sessionJSON, err := marshalSessionData(p.Session)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE sms_conversation_progress
		SET step = ?, consent_given = ?, session_data = ?, last_message_id = ?, version = version + 1, updated_at = ?
		WHERE org_id = ? AND phone = ? AND sender_id = ? AND version = ?`,
		p.Step.String(), p.ConsentGiven, sessionJSON, p.LastMessageID, time.Now().UTC(),
		p.OrgID, p.Phone, p.SenderID, expectedVersion)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationProgress failed", "error", err, "org", p.OrgID, "phone", p.Phone)
		return fmt.Errorf("failed to update conversation progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		slog.Warn("SQLiteStore UpdateConversationProgress version conflict", "org", p.OrgID, "phone", p.Phone, "expected_version", expectedVersion)
		return ErrVersionConflict
	}
	slog.Debug("SQLiteStore UpdateConversationProgress succeeded", "org", p.OrgID, "phone", p.Phone, "step", p.Step.String())
	return nil
}

func (s *SQLiteStore) AddConversationMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO sms_conversations (org_id, phone, direction, body, message_id, delivered, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.OrgID, m.Phone, string(m.Direction), m.Body, m.MessageID, m.Delivered, m.Time)
	if err != nil {
		slog.Error("SQLiteStore AddConversationMessage failed", "error", err, "org", m.OrgID, "phone", m.Phone)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConversationMessages(orgID, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT org_id, phone, direction, body, message_id, delivered, time
		FROM sms_conversations WHERE org_id = ? AND phone = ? ORDER BY id`, orgID, phone)
	if err != nil {
		slog.Error("SQLiteStore ListConversationMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversation messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var direction string
		if err := rows.Scan(&m.OrgID, &m.Phone, &direction, &m.Body, &m.MessageID, &m.Delivered, &m.Time); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message row: %w", err)
		}
		m.Direction = models.MessageDirection(direction)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) CreateSession(sess models.FeedbackSession) error {
	_, err := s.db.Exec(`INSERT INTO feedback_sessions (id, org_id, phone, status, origin, total_score, summary, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OrgID, sess.Phone, string(sess.Status), sess.Origin, sess.TotalScore, sess.Summary, sess.CreatedAt, sess.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "session", sess.ID)
	return nil
}

func (s *SQLiteStore) GetSession(id string) (*models.FeedbackSession, error) {
	row := s.db.QueryRow(`SELECT id, org_id, phone, status, origin, total_score, summary, created_at, completed_at
		FROM feedback_sessions WHERE id = ?`, id)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "session", id)
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(orgID string) ([]models.FeedbackSession, error) {
	rows, err := s.db.Query(`SELECT id, org_id, phone, status, origin, total_score, summary, created_at, completed_at
		FROM feedback_sessions WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err, "org", orgID)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.FeedbackSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) CompleteSession(id string, totalScore int, completedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE feedback_sessions SET status = ?, total_score = ?, completed_at = ? WHERE id = ?`,
		string(models.SessionCompleted), totalScore, completedAt, id)
	if err != nil {
		slog.Error("SQLiteStore CompleteSession failed", "error", err, "session", id)
		return fmt.Errorf("failed to complete session %s: %w", id, err)
	}
	slog.Debug("SQLiteStore CompleteSession succeeded", "session", id, "total_score", totalScore)
	return nil
}

func (s *SQLiteStore) SetSessionSummary(id, summary string) error {
	_, err := s.db.Exec(`UPDATE feedback_sessions SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		slog.Error("SQLiteStore SetSessionSummary failed", "error", err, "session", id)
		return fmt.Errorf("failed to set summary for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddFeedbackResponse(r models.FeedbackResponse) error {
	snapshotJSON, err := marshalSnapshot(r.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO feedback_responses (id, session_id, question_id, category, value, score, question_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.QuestionID, r.Category, r.Value, r.Score, snapshotJSON, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateResponse
		}
		slog.Error("SQLiteStore AddFeedbackResponse failed", "error", err, "session", r.SessionID, "question", r.QuestionID)
		return fmt.Errorf("failed to insert feedback response: %w", err)
	}
	slog.Debug("SQLiteStore AddFeedbackResponse succeeded", "session", r.SessionID, "question", r.QuestionID)
	return nil
}

func (s *SQLiteStore) ListFeedbackResponses(sessionID string) ([]models.FeedbackResponse, error) {
	rows, err := s.db.Query(`SELECT id, session_id, question_id, category, value, score, question_snapshot, created_at
		FROM feedback_responses WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore ListFeedbackResponses query failed", "error", err, "session", sessionID)
		return nil, fmt.Errorf("failed to query feedback responses: %w", err)
	}
	defer rows.Close()

	var responses []models.FeedbackResponse
	for rows.Next() {
		r, err := scanFeedbackResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

func (s *SQLiteStore) CreateCampaign(c models.Campaign) error {
	recipientsJSON, err := marshalRecipients(c.Recipients)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO campaigns (id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrgID, c.Name, recipientsJSON, c.Schedule, string(c.Status), c.SentCount, c.FailedCount, c.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateCampaign failed", "error", err, "campaign", c.ID)
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCampaign(id string) (*models.Campaign, error) {
	row := s.db.QueryRow(`SELECT id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at
		FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaignRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCampaign failed", "error", err, "campaign", id)
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListCampaigns(orgID string) ([]models.Campaign, error) {
	rows, err := s.db.Query(`SELECT id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at
		FROM campaigns WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		slog.Error("SQLiteStore ListCampaigns query failed", "error", err, "org", orgID)
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStore) UpdateCampaignStatus(id string, status models.CampaignStatus, sent, failed int) error {
	_, err := s.db.Exec(`UPDATE campaigns SET status = ?, sent_count = ?, failed_count = ? WHERE id = ?`,
		string(status), sent, failed, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateCampaignStatus failed", "error", err, "campaign", id)
		return fmt.Errorf("failed to update campaign %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO system_settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		slog.Error("SQLiteStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
