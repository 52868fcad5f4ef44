// Package models defines conversation state structures for the SMS flow.
package models

import "time"

// Answer is one accepted reply, keyed by question ID in SessionData.
type Answer struct {
	Value    string `json:"value"`
	Score    *int   `json:"score,omitempty"`
	Category string `json:"category,omitempty"`
}

// SessionData is the JSON blob carried by a conversation: the question
// catalog snapshot captured at consent time, the current position, the
// accumulated answers and the feedback session reference once one exists.
type SessionData struct {
	Questions []Question        `json:"questions,omitempty"`
	Index     int               `json:"index"`
	Answers   map[string]Answer `json:"answers,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// RecordAnswer stores an accepted answer under the question ID.
func (d *SessionData) RecordAnswer(questionID string, a Answer) {
	if d.Answers == nil {
		d.Answers = make(map[string]Answer)
	}
	d.Answers[questionID] = a
}

// TotalScore sums the numeric answers accumulated so far.
func (d *SessionData) TotalScore() int {
	var total int
	for _, a := range d.Answers {
		if a.Score != nil {
			total += *a.Score
		}
	}
	return total
}

// ConversationProgress is the durable record of where a phone number stands
// within an organization's question sequence. One row exists per
// (org, phone, sender ID) triple; it is created on the first inbound message
// and mutated on every subsequent one, never deleted.
type ConversationProgress struct {
	OrgID         string      `json:"org_id"`
	Phone         string      `json:"phone"`
	SenderID      string      `json:"sender_id"`
	Step          Step        `json:"-"`
	ConsentGiven  bool        `json:"consent_given"`
	Session       SessionData `json:"session"`
	LastMessageID string      `json:"last_message_id,omitempty"`
	// Version guards the read-modify-write cycle: updates are conditional on
	// the version read, so a concurrent update surfaces as a conflict
	// instead of silently overwriting a transition.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationProgress returns a fresh consent-step conversation for the
// given triple.
func NewConversationProgress(orgID, phone, senderID string) ConversationProgress {
	now := time.Now().UTC()
	return ConversationProgress{
		OrgID:     orgID,
		Phone:     phone,
		SenderID:  senderID,
		Step:      ConsentStep(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
