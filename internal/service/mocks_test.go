package service

import (
	"context"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionBackend mocks the SessionBackend interface
type MockSessionBackend struct {
	mock.Mock
}

func (m *MockSessionBackend) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockSessionBackend) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConversationMessage), args.Error(1)
}

func (m *MockSessionBackend) EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// MockSweeper mocks domain.SessionSweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) ExpireInactive(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
