package flow

import (
	"context"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionStore mocks the SessionStore interface
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) FindActiveSession(ctx context.Context, tenantID, userChannelID string, channel domain.ChannelType) (*domain.ConversationSession, error) {
	args := m.Called(ctx, tenantID, userChannelID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockSessionStore) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionStore) UpdateSession(ctx context.Context, id uuid.UUID, update domain.SessionUpdate) (*domain.ConversationSession, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockSessionStore) AddMessage(ctx context.Context, message *domain.ConversationMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockSessionStore) LogNodeTransition(ctx context.Context, transition domain.NodeTransition) {
	m.Called(ctx, transition)
}

func (m *MockSessionStore) EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// MockGraphSource mocks the GraphSource interface
type MockGraphSource struct {
	mock.Mock
}

func (m *MockGraphSource) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActiveGraph), args.Error(1)
}
