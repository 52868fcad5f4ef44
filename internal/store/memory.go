package store

import (
	"sort"
	"sync"
	"time"

	"github.com/replyline/replyline/internal/models"
)

// InMemoryStore keeps everything in process memory. It backs tests and
// DSN-less development runs; all methods are safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	organizations map[string]models.Organization
	questions     map[string][]models.Question // keyed by org ID
	progress      map[string]models.ConversationProgress
	messages      []models.ConversationMessage
	sessions      map[string]models.FeedbackSession
	responses     map[string][]models.FeedbackResponse // keyed by session ID
	campaigns     map[string]models.Campaign
	settings      map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		organizations: make(map[string]models.Organization),
		questions:     make(map[string][]models.Question),
		progress:      make(map[string]models.ConversationProgress),
		sessions:      make(map[string]models.FeedbackSession),
		responses:     make(map[string][]models.FeedbackResponse),
		campaigns:     make(map[string]models.Campaign),
		settings:      make(map[string]string),
	}
}

func progressKey(orgID, phone, senderID string) string {
	return orgID + "|" + phone + "|" + senderID
}

func (s *InMemoryStore) CreateOrganization(org models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
	return nil
}

func (s *InMemoryStore) GetOrganization(id string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if org, ok := s.organizations[id]; ok {
		return &org, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetOrganizationBySenderID(senderID string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.organizations {
		if org.SenderID == senderID {
			return &org, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListOrganizations() ([]models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgs := make([]models.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		orgs = append(orgs, org)
	}
	return orgs, nil
}

func (s *InMemoryStore) CreateQuestion(q models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.OrgID] = append(s.questions[q.OrgID], q)
	return nil
}

func (s *InMemoryStore) ListActiveQuestions(orgID string) ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []models.Question
	for _, q := range s.questions[orgID] {
		if q.Active {
			active = append(active, q)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].DisplayOrder < active[j].DisplayOrder
	})
	return active, nil
}

func (s *InMemoryStore) GetConversationProgress(orgID, phone, senderID string) (*models.ConversationProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.progress[progressKey(orgID, phone, senderID)]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *InMemoryStore) CreateConversationProgress(p models.ConversationProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progressKey(p.OrgID, p.Phone, p.SenderID)] = p
	return nil
}

func (s *InMemoryStore) UpdateConversationProgress(p models.ConversationProgress, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey(p.OrgID, p.Phone, p.SenderID)
	current, ok := s.progress[key]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()
	s.progress[key] = p
	return nil
}

func (s *InMemoryStore) AddConversationMessage(m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) ListConversationMessages(orgID, phone string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationMessage
	for _, m := range s.messages {
		if m.OrgID == orgID && m.Phone == phone {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateSession(sess models.FeedbackSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(id string) (*models.FeedbackSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListSessions(orgID string) ([]models.FeedbackSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FeedbackSession
	for _, sess := range s.sessions {
		if sess.OrgID == orgID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CompleteSession(id string, totalScore int, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Status = models.SessionCompleted
	sess.TotalScore = totalScore
	sess.CompletedAt = &completedAt
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) SetSessionSummary(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Summary = summary
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) AddFeedbackResponse(r models.FeedbackResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.responses[r.SessionID] {
		if existing.QuestionID == r.QuestionID {
			return ErrDuplicateResponse
		}
	}
	s.responses[r.SessionID] = append(s.responses[r.SessionID], r)
	return nil
}

func (s *InMemoryStore) ListFeedbackResponses(sessionID string) ([]models.FeedbackResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FeedbackResponse, len(s.responses[sessionID]))
	copy(out, s.responses[sessionID])
	return out, nil
}

func (s *InMemoryStore) CreateCampaign(c models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *InMemoryStore) GetCampaign(id string) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.campaigns[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListCampaigns(orgID string) ([]models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateCampaignStatus(id string, status models.CampaignStatus, sent, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.SentCount = sent
	c.FailedCount = failed
	s.campaigns[id] = c
	return nil
}

func (s *InMemoryStore) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *InMemoryStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
