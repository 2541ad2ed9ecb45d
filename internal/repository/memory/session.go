// Package memory holds process-local repositories for tests, the CLI and
// single-instance deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// SessionStore keeps sessions, messages and transitions in maps
type SessionStore struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*domain.ConversationSession
	messages    map[uuid.UUID][]domain.ConversationMessage
	transitions []domain.NodeTransition
	now         func() time.Time
}

// NewSessionStore creates an empty store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*domain.ConversationSession),
		messages: make(map[uuid.UUID][]domain.ConversationMessage),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source
func (s *SessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SessionStore) FindActiveSession(ctx context.Context, tenantID, userChannelID string, channel domain.ChannelType) (*domain.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ConversationSession
	for _, sess := range s.sessions {
		if sess.TenantID != tenantID || sess.UserChannelID != userChannelID || sess.ChannelType != channel {
			continue
		}
		if !sess.Status.IsOpen() {
			continue
		}
		if found == nil || sess.LastInteractionAt.After(found.LastInteractionAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(found), nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("failed to create session: duplicate id %s", session.ID)
	}
	now := s.now()
	session.CreatedAt = now
	session.LastInteractionAt = now
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.StateData == nil {
		session.StateData = domain.StateData{}
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, id uuid.UUID, update domain.SessionUpdate) (*domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !sess.Status.IsOpen() {
		return nil, &domain.SessionClosedError{Status: sess.Status}
	}
	update.Apply(sess)
	sess.LastInteractionAt = s.now()
	return cloneSession(sess), nil
}

func (s *SessionStore) AddMessage(ctx context.Context, message *domain.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = s.now()
	s.messages[message.SessionID] = append(s.messages[message.SessionID], *message)
	return nil
}

func (s *SessionStore) LogNodeTransition(ctx context.Context, transition domain.NodeTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transition.CreatedAt = s.now()
	s.transitions = append(s.transitions, transition)
}

func (s *SessionStore) EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	sess.LastInteractionAt = s.now()
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *SessionStore) ExpireInactive(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sess := range s.sessions {
		if sess.Status.IsOpen() && sess.LastInteractionAt.Before(before) {
			sess.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

// Transitions returns the recorded transitions of a session in order
func (s *SessionStore) Transitions(sessionID uuid.UUID) []domain.NodeTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.NodeTransition
	for _, t := range s.transitions {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// Sessions returns every stored session ordered by creation
func (s *SessionStore) Sessions() []domain.ConversationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConversationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneSession(s *domain.ConversationSession) *domain.ConversationSession {
	c := *s
	c.StateData = s.StateData.Clone()
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.CurrentNodeID != nil {
		id := *s.CurrentNodeID
		c.CurrentNodeID = &id
	}
	if s.ActiveFlowActivationID != nil {
		id := *s.ActiveFlowActivationID
		c.ActiveFlowActivationID = &id
	}
	return &c
}
