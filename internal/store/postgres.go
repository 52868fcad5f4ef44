package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/replyline/replyline/internal/models"
)

// Connection pool settings for the Postgres backend.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store with the configured DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

func (s *PostgresStore) CreateOrganization(org models.Organization) error {
	_, err := s.db.Exec(`INSERT INTO organizations (id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		org.ID, org.Name, org.SenderID, org.WebhookSecret, org.GatewayUsername, org.GatewayAPIKey, string(org.Channel), org.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateOrganization failed", "error", err, "org", org.ID)
		return fmt.Errorf("failed to insert organization %s: %w", org.ID, err)
	}
	slog.Debug("PostgresStore CreateOrganization succeeded", "org", org.ID)
	return nil
}

func (s *PostgresStore) GetOrganization(id string) (*models.Organization, error) {
	row := s.db.QueryRow(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations WHERE id = $1`, id)
	return scanOrganizationRow(row)
}

func (s *PostgresStore) GetOrganizationBySenderID(senderID string) (*models.Organization, error) {
	row := s.db.QueryRow(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations WHERE sender_id = $1`, senderID)
	return scanOrganizationRow(row)
}

func (s *PostgresStore) ListOrganizations() ([]models.Organization, error) {
	rows, err := s.db.Query(`SELECT id, name, sender_id, webhook_secret, gateway_username, gateway_api_key, channel, created_at
		FROM organizations ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListOrganizations query failed", "error", err)
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

func (s *PostgresStore) CreateQuestion(q models.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO questions (id, org_id, text, type, required, display_order, category, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.OrgID, q.Text, string(q.Type), q.Required, q.DisplayOrder, q.Category, q.Active)
	if err != nil {
		slog.Error("PostgresStore CreateQuestion failed", "error", err, "question", q.ID)
		return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
	}
	for _, opt := range q.Options {
		if _, err := tx.Exec(`INSERT INTO question_options (question_id, text, value, display_order) VALUES ($1, $2, $3, $4)`,
			q.ID, opt.Text, opt.Value, opt.DisplayOrder); err != nil {
			return fmt.Errorf("failed to insert option for question %s: %w", q.ID, err)
		}
	}
	if q.Scale != nil {
		if _, err := tx.Exec(`INSERT INTO question_scales (question_id, min, max, min_label, max_label) VALUES ($1, $2, $3, $4, $5)`,
			q.ID, q.Scale.Min, q.Scale.Max, q.Scale.MinLabel, q.Scale.MaxLabel); err != nil {
			return fmt.Errorf("failed to insert scale for question %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit question %s: %w", q.ID, err)
	}
	slog.Debug("PostgresStore CreateQuestion succeeded", "question", q.ID, "org", q.OrgID)
	return nil
}

func (s *PostgresStore) ListActiveQuestions(orgID string) ([]models.Question, error) {
	rows, err := s.db.Query(`SELECT id, org_id, text, type, required, display_order, category, active
		FROM questions WHERE org_id = $1 AND active = TRUE ORDER BY display_order`, orgID)
	if err != nil {
		slog.Error("PostgresStore ListActiveQuestions query failed", "error", err, "org", orgID)
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
	slog.Debug("PostgresStore ListActiveQuestions succeeded", "org", orgID, "count", len(questions))
	return questions, nil
}

func (s *PostgresStore) loadQuestionDetails(q *models.Question) error {
	rows, err := s.db.Query(`SELECT text, value, display_order FROM question_options WHERE question_id = $1 ORDER BY display_order`, q.ID)
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
	err = s.db.QueryRow(`SELECT min, max, min_label, max_label FROM question_scales WHERE question_id = $1`, q.ID).
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

func (s *PostgresStore) GetConversationProgress(orgID, phone, senderID string) (*models.ConversationProgress, error) {
	row := s.db.QueryRow(`SELECT org_id, phone, sender_id, step, consent_given, session_data, last_message_id, version, created_at, updated_at
		FROM sms_conversation_progress WHERE org_id = $1 AND phone = $2 AND sender_id = $3`, orgID, phone, senderID)
	p, err := scanProgressRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationProgress not found", "org", orgID, "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationProgress failed", "error", err, "org", orgID, "phone", phone)
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) CreateConversationProgress(p models.ConversationProgress) error {
	sessionJSON, err := marshalSessionData(p.Session)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO sms_conversation_progress (org_id, phone, sender_id, step, consent_given, session_data, last_message_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.OrgID, p.Phone, p.SenderID, p.Step.String(), p.ConsentGiven, sessionJSON, p.LastMessageID, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversationProgress failed", "error", err, "org", p.OrgID, "phone", p.Phone)
		return fmt.Errorf("failed to insert conversation progress: %w", err)
	}
	slog.Debug("PostgresStore CreateConversationProgress succeeded", "org", p.OrgID, "phone", p.Phone)
	return nil
}

func (s *PostgresStore) UpdateConversationProgress(p models.ConversationProgress, expectedVersion int64) error {
	sessionJSON, err := marshalSessionData(p.Session)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE sms_conversation_progress
		SET step = $1, consent_given = $2, session_data = $3, last_message_id = $4, version = version + 1, updated_at = $5
		WHERE org_id = $6 AND phone = $7 AND sender_id = $8 AND version = $9`,
		p.Step.String(), p.ConsentGiven, sessionJSON, p.LastMessageID, time.Now().UTC(),
		p.OrgID, p.Phone, p.SenderID, expectedVersion)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationProgress failed", "error", err, "org", p.OrgID, "phone", p.Phone)
		return fmt.Errorf("failed to update conversation progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		slog.Warn("PostgresStore UpdateConversationProgress version conflict", "org", p.OrgID, "phone", p.Phone, "expected_version", expectedVersion)
		return ErrVersionConflict
	}
	slog.Debug("PostgresStore UpdateConversationProgress succeeded", "org", p.OrgID, "phone", p.Phone, "step", p.Step.String())
	return nil
}

func (s *PostgresStore) AddConversationMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO sms_conversations (org_id, phone, direction, body, message_id, delivered, time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.OrgID, m.Phone, string(m.Direction), m.Body, m.MessageID, m.Delivered, m.Time)
	if err != nil {
		slog.Error("PostgresStore AddConversationMessage failed", "error", err, "org", m.OrgID, "phone", m.Phone)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConversationMessages(orgID, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT org_id, phone, direction, body, message_id, delivered, time
		FROM sms_conversations WHERE org_id = $1 AND phone = $2 ORDER BY id`, orgID, phone)
	if err != nil {
		slog.Error("PostgresStore ListConversationMessages query failed", "error", err)
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

func (s *PostgresStore) CreateSession(sess models.FeedbackSession) error {
	_, err := s.db.Exec(`INSERT INTO feedback_sessions (id, org_id, phone, status, origin, total_score, summary, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.OrgID, sess.Phone, string(sess.Status), sess.Origin, sess.TotalScore, sess.Summary, sess.CreatedAt, sess.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "session", sess.ID)
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.FeedbackSession, error) {
	row := s.db.QueryRow(`SELECT id, org_id, phone, status, origin, total_score, summary, created_at, completed_at
		FROM feedback_sessions WHERE id = $1`, id)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "session", id)
		return nil, err
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(orgID string) ([]models.FeedbackSession, error) {
	rows, err := s.db.Query(`SELECT id, org_id, phone, status, origin, total_score, summary, created_at, completed_at
		FROM feedback_sessions WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err, "org", orgID)
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

func (s *PostgresStore) CompleteSession(id string, totalScore int, completedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE feedback_sessions SET status = $1, total_score = $2, completed_at = $3 WHERE id = $4`,
		string(models.SessionCompleted), totalScore, completedAt, id)
	if err != nil {
		slog.Error("PostgresStore CompleteSession failed", "error", err, "session", id)
		return fmt.Errorf("failed to complete session %s: %w", id, err)
	}
	slog.Debug("PostgresStore CompleteSession succeeded", "session", id, "total_score", totalScore)
	return nil
}

func (s *PostgresStore) SetSessionSummary(id, summary string) error {
	_, err := s.db.Exec(`UPDATE feedback_sessions SET summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		slog.Error("PostgresStore SetSessionSummary failed", "error", err, "session", id)
		return fmt.Errorf("failed to set summary for session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddFeedbackResponse(r models.FeedbackResponse) error {
	snapshotJSON, err := marshalSnapshot(r.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO feedback_responses (id, session_id, question_id, category, value, score, question_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.SessionID, r.QuestionID, r.Category, r.Value, r.Score, snapshotJSON, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateResponse
		}
		slog.Error("PostgresStore AddFeedbackResponse failed", "error", err, "session", r.SessionID, "question", r.QuestionID)
		return fmt.Errorf("failed to insert feedback response: %w", err)
	}
	slog.Debug("PostgresStore AddFeedbackResponse succeeded", "session", r.SessionID, "question", r.QuestionID)
	return nil
}

func (s *PostgresStore) ListFeedbackResponses(sessionID string) ([]models.FeedbackResponse, error) {
	rows, err := s.db.Query(`SELECT id, session_id, question_id, category, value, score, question_snapshot, created_at
		FROM feedback_responses WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ListFeedbackResponses query failed", "error", err, "session", sessionID)
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

func (s *PostgresStore) CreateCampaign(c models.Campaign) error {
	recipientsJSON, err := marshalRecipients(c.Recipients)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO campaigns (id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OrgID, c.Name, recipientsJSON, c.Schedule, string(c.Status), c.SentCount, c.FailedCount, c.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateCampaign failed", "error", err, "campaign", c.ID)
		return fmt.Errorf("failed to insert campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetCampaign(id string) (*models.Campaign, error) {
	row := s.db.QueryRow(`SELECT id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at
		FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaignRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCampaign failed", "error", err, "campaign", id)
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(orgID string) ([]models.Campaign, error) {
	rows, err := s.db.Query(`SELECT id, org_id, name, recipients, schedule, status, sent_count, failed_count, created_at
		FROM campaigns WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		slog.Error("PostgresStore ListCampaigns query failed", "error", err, "org", orgID)
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

func (s *PostgresStore) UpdateCampaignStatus(id string, status models.CampaignStatus, sent, failed int) error {
	_, err := s.db.Exec(`UPDATE campaigns SET status = $1, sent_count = $2, failed_count = $3 WHERE id = $4`,
		string(status), sent, failed, id)
	if err != nil {
		slog.Error("PostgresStore UpdateCampaignStatus failed", "error", err, "campaign", id)
		return fmt.Errorf("failed to update campaign %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSetting failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		slog.Error("PostgresStore SetSetting failed", "error", err, "key", key)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
