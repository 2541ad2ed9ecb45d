package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SessionBackend is the store surface the operator service needs
type SessionBackend interface {
	domain.SessionQuerier
	EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error
}

// SessionService serves tenant-scoped operator reads and actions over sessions
type SessionService struct {
	store SessionBackend
}

// NewSessionService creates a new session service
func NewSessionService(store SessionBackend) *SessionService {
	return &SessionService{store: store}
}

// Get returns the session when it belongs to tenantID
func (s *SessionService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*domain.ConversationSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}
	return sess, nil
}

// History returns the latest limit messages of the session, oldest first
func (s *SessionService) History(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	messages, err := s.store.ListMessages(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.ConversationMessage{}
	}
	return messages, nil
}

// End closes an open session with a terminal status. Ending a closed
// session leaves it untouched.
func (s *SessionService) End(ctx context.Context, tenantID string, id uuid.UUID, status domain.SessionStatus) (*domain.ConversationSession, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	sess, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !sess.Status.IsOpen() {
		return sess, nil
	}
	if err := s.store.EndSession(ctx, id, status); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("session_id", id.String()).
		Str("status", string(status)).
		Msg("Session ended by operator")

	return s.store.GetSession(ctx, id)
}

// Sweeper periodically expires sessions idle for longer than the TTL
type Sweeper struct {
	store    domain.SessionSweeper
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper
func NewSweeper(store domain.SessionSweeper, ttl, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: store, ttl: ttl, interval: interval, now: time.Now}
}

// SweepOnce expires every session idle since before now-ttl
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)
	n, err := s.store.ExpireInactive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	if n > 0 {
		log.Info().Int64("expired", n).Time("cutoff", cutoff).Msg("Expired inactive sessions")
	}
	return n, nil
}

// Run sweeps on every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Session sweep failed")
			}
		}
	}
}
