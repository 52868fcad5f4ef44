package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replyline/replyline/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers serve both.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (models.Organization, error) {
	var org models.Organization
	var channel string
	err := row.Scan(&org.ID, &org.Name, &org.SenderID, &org.WebhookSecret, &org.GatewayUsername, &org.GatewayAPIKey, &channel, &org.CreatedAt)
	if err != nil {
		return org, err
	}
	org.Channel = models.DeliveryChannel(channel)
	return org, nil
}

func scanOrganizationRow(row rowScanner) (*models.Organization, error) {
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan organization row: %w", err)
	}
	return &org, nil
}

func scanProgressRow(row rowScanner) (*models.ConversationProgress, error) {
	var p models.ConversationProgress
	var step, sessionJSON string
	err := row.Scan(&p.OrgID, &p.Phone, &p.SenderID, &step, &p.ConsentGiven, &sessionJSON, &p.LastMessageID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := models.ParseStep(step)
	if err != nil {
		// Leave the zero step in place; the flow engine resets unknown
		// steps to the consent prompt.
		slog.Warn("Unrecognized conversation step in storage", "step", step, "org", p.OrgID, "phone", p.Phone)
	} else {
		p.Step = parsed
	}
	if sessionJSON != "" {
		if err := json.Unmarshal([]byte(sessionJSON), &p.Session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
		}
	}
	return &p, nil
}

func scanSession(row rowScanner) (models.FeedbackSession, error) {
	var sess models.FeedbackSession
	var status string
	err := row.Scan(&sess.ID, &sess.OrgID, &sess.Phone, &status, &sess.Origin, &sess.TotalScore, &sess.Summary, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return sess, err
	}
	sess.Status = models.SessionStatus(status)
	return sess, nil
}

func scanSessionRow(row rowScanner) (*models.FeedbackSession, error) {
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanFeedbackResponse(row rowScanner) (models.FeedbackResponse, error) {
	var r models.FeedbackResponse
	var snapshotJSON string
	err := row.Scan(&r.ID, &r.SessionID, &r.QuestionID, &r.Category, &r.Value, &r.Score, &snapshotJSON, &r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan feedback response row: %w", err)
	}
	if snapshotJSON != "" {
		if err := json.Unmarshal([]byte(snapshotJSON), &r.Snapshot); err != nil {
			return r, fmt.Errorf("failed to unmarshal question snapshot: %w", err)
		}
	}
	return r, nil
}

func scanCampaign(row rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var status, recipientsJSON string
	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &recipientsJSON, &c.Schedule, &status, &c.SentCount, &c.FailedCount, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.Status = models.CampaignStatus(status)
	if recipientsJSON != "" {
		if err := json.Unmarshal([]byte(recipientsJSON), &c.Recipients); err != nil {
			return c, fmt.Errorf("failed to unmarshal campaign recipients: %w", err)
		}
	}
	return c, nil
}

func scanCampaignRow(row rowScanner) (*models.Campaign, error) {
	c, err := scanCampaign(row)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalSessionData(data models.SessionData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session data: %w", err)
	}
	return string(b), nil
}

func marshalSnapshot(q models.Question) (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to marshal question snapshot: %w", err)
	}
	return string(b), nil
}

func marshalRecipients(recipients []string) (string, error) {
	b, err := json.Marshal(recipients)
	if err != nil {
		return "", fmt.Errorf("failed to marshal campaign recipients: %w", err)
	}
	return string(b), nil
}

// isUniqueViolation reports whether err came from a unique constraint. Both
// SQLite and Postgres drivers surface these only through the error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
