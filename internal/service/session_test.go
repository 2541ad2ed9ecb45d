package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, store *memory.SessionStore, tenant string) *domain.ConversationSession {
	t.Helper()
	sess := &domain.ConversationSession{TenantID: tenant, UserChannelID: "U", ChannelType: domain.ChannelWebChat}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionService_Get(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	svc := NewSessionService(store)
	sess := openSession(t, store, "clinic")

	got, err := svc.Get(ctx, "clinic", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = svc.Get(ctx, "shop", sess.ID)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	_, err = svc.Get(ctx, "clinic", uuid.New())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_History(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	svc := NewSessionService(store)
	sess := openSession(t, store, "clinic")

	empty, err := svc.History(ctx, "clinic", sess.ID, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, text := range []string{"hi", "Hello!", "Ana"} {
		require.NoError(t, store.AddMessage(ctx, domain.NewUserMessage(sess.ID, text)))
	}

	last, err := svc.History(ctx, "clinic", sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "Hello!", last[0].Content)
	assert.Equal(t, "Ana", last[1].Content)

	_, err = svc.History(ctx, "shop", sess.ID, 10)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)
}

func TestSessionService_HistoryClampsLimit(t *testing.T) {
	backend := new(MockSessionBackend)
	id := uuid.New()
	backend.On("GetSession", mock.Anything, id).Return(&domain.ConversationSession{ID: id, TenantID: "clinic"}, nil)
	backend.On("ListMessages", mock.Anything, id, maxHistoryLimit).Return([]domain.ConversationMessage{}, nil)
	backend.On("ListMessages", mock.Anything, id, defaultHistoryLimit).Return(nil, errors.New("db down"))

	svc := NewSessionService(backend)
	_, err := svc.History(context.Background(), "clinic", id, 10_000)
	require.NoError(t, err)

	_, err = svc.History(context.Background(), "clinic", id, 0)
	assert.ErrorContains(t, err, "db down")
	backend.AssertExpectations(t)
}

func TestSessionService_End(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	svc := NewSessionService(store)
	sess := openSession(t, store, "clinic")

	_, err := svc.End(ctx, "clinic", sess.ID, domain.StatusWaitingInput)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = svc.End(ctx, "shop", sess.ID, domain.StatusCompleted)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	ended, err := svc.End(ctx, "clinic", sess.ID, domain.StatusTransferred)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTransferred, ended.Status)

	again, err := svc.End(ctx, "clinic", sess.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTransferred, again.Status)
}

func TestSessionService_EndStoreFailure(t *testing.T) {
	backend := new(MockSessionBackend)
	id := uuid.New()
	backend.On("GetSession", mock.Anything, id).Return(&domain.ConversationSession{ID: id, TenantID: "clinic", Status: domain.StatusActive}, nil)
	backend.On("EndSession", mock.Anything, id, domain.StatusCompleted).Return(errors.New("write failed"))

	_, err := NewSessionService(backend).End(context.Background(), "clinic", id, domain.StatusCompleted)
	assert.ErrorContains(t, err, "write failed")
}

func TestSweeper_SweepOnce(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	sweeper := new(MockSweeper)
	sweeper.On("ExpireInactive", mock.Anything, now.Add(-24*time.Hour)).Return(int64(3), nil).Once()

	s := NewSweeper(sweeper, 24*time.Hour, time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	sweeper.AssertExpectations(t)
}

func TestSweeper_DisabledWithoutTTL(t *testing.T) {
	sweeper := new(MockSweeper)
	n, err := NewSweeper(sweeper, 0, time.Minute).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	sweeper.AssertNotCalled(t, "ExpireInactive", mock.Anything, mock.Anything)
}

func TestSweeper_ExpiresMemorySessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })
	sess := openSession(t, store, "clinic")

	s := NewSweeper(store, time.Hour, time.Minute)
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sweeper := new(MockSweeper)
	sweeper.On("ExpireInactive", mock.Anything, mock.Anything).Return(int64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(sweeper, time.Hour, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.NotEmpty(t, sweeper.Calls)
}
