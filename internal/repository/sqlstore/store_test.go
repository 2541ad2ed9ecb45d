package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/executor"
	"github.com/Rrens/flowbot/internal/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(tenant, user string) *domain.ConversationSession {
	return &domain.ConversationSession{
		TenantID:      tenant,
		UserChannelID: user,
		ChannelType:   domain.ChannelWebChat,
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.ErrorIs(t, err, domain.ErrUnsupportedStore)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.FindActiveSession(ctx, "T", "U", domain.ChannelWebChat)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sess := newSession("T", "U")
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.NotEqual(t, "", sess.ID.String())
	assert.Equal(t, domain.StatusActive, sess.Status)
	assert.False(t, sess.CreatedAt.IsZero())

	found, err := s.FindActiveSession(ctx, "T", "U", domain.ChannelWebChat)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	_, err = s.FindActiveSession(ctx, "T", "U", domain.ChannelWhatsApp)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	node := "ask"
	waiting := domain.StatusWaitingInput
	updated, err := s.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		CurrentNodeID: &node,
		Status:        &waiting,
		StateData:     map[string]any{"name": "Ana", "age": 30.0},
		Metadata:      map[string]any{domain.MetaAwaitingVariable: "name"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.CurrentNodeID)
	assert.Equal(t, "ask", *updated.CurrentNodeID)
	assert.Equal(t, domain.StatusWaitingInput, updated.Status)
	assert.Equal(t, "name", updated.AwaitingVariable())

	// state merges key by key and nil deletes
	updated, err = s.UpdateSession(ctx, sess.ID, domain.SessionUpdate{
		ClearCurrentNode: true,
		StateData:        map[string]any{"age": nil, "city": "Lima"},
		Metadata:         map[string]any{domain.MetaAwaitingVariable: nil},
	})
	require.NoError(t, err)
	assert.Nil(t, updated.CurrentNodeID)
	assert.Equal(t, domain.StateData{"name": "Ana", "city": "Lima"}, updated.StateData)
	assert.Empty(t, updated.AwaitingVariable())

	stored, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.StateData, stored.StateData)

	assert.ErrorIs(t, s.EndSession(ctx, sess.ID, domain.StatusActive), domain.ErrInvalidStatus)
	require.NoError(t, s.EndSession(ctx, sess.ID, domain.StatusCompleted))

	_, err = s.FindActiveSession(ctx, "T", "U", domain.ChannelWebChat)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	stored, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	// a closed session is not reopened by a late update
	_, err = s.UpdateSession(ctx, sess.ID, domain.SessionUpdate{Status: &waiting})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	var closed *domain.SessionClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, domain.StatusCompleted, closed.Status)

	stored, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestUpdateMissingSession(t *testing.T) {
	s := openTest(t)
	sess := newSession("T", "U")
	require.NoError(t, s.CreateSession(context.Background(), sess))

	other := newSession("T", "V")
	other.ID = [16]byte{1}
	_, err := s.UpdateSession(context.Background(), other.ID, domain.SessionUpdate{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, s.EndSession(context.Background(), other.ID, domain.StatusFailed), domain.ErrSessionNotFound)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	sess := newSession("T", "U")
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.AddMessage(ctx, domain.NewUserMessage(sess.ID, "hi")))
	require.NoError(t, s.AddMessage(ctx, domain.NewBotMessage(sess.ID, "Hello!", "welcome")))
	require.NoError(t, s.AddMessage(ctx, domain.NewBotMessage(sess.ID, "How can I help you?", "")))

	all, err := s.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].FromUser)
	assert.Equal(t, "hi", all[0].Content)
	require.NotNil(t, all[1].NodeID)
	assert.Equal(t, "welcome", *all[1].NodeID)
	assert.Nil(t, all[2].NodeID)
	assert.Equal(t, domain.ContentSystem, all[2].ContentType)

	last, err := s.ListMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "Hello!", last[0].Content)
	assert.Equal(t, "How can I help you?", last[1].Content)
}

func TestNodeTransitions(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	sess := newSession("T", "U")
	require.NoError(t, s.CreateSession(ctx, sess))

	s.LogNodeTransition(ctx, domain.NodeTransition{SessionID: sess.ID, TenantID: "T", FromNodeID: "start", ToNodeID: "welcome", Handle: "next"})
	s.LogNodeTransition(ctx, domain.NodeTransition{SessionID: sess.ID, TenantID: "T", FromNodeID: "welcome"})

	n, err := s.CountTransitions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExpireInactive(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	stale := newSession("T", "old")
	require.NoError(t, s.CreateSession(ctx, stale))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh := newSession("T", "new")
	require.NoError(t, s.CreateSession(ctx, fresh))

	n, err := s.ExpireInactive(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	got, err = s.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
}

const testGraph = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "welcome", "type": "message", "data": {"text": "Hi!"}},
		{"id": "ask", "type": "input", "data": {"variable": "name"}},
		{"id": "thanks", "type": "message", "data": {"text": "Nice to meet you, {{name}}."}}
	],
	"edges": [
		{"source": "start", "target": "welcome"},
		{"source": "welcome", "target": "ask"},
		{"source": "ask", "target": "thanks"}
	]
}`

func TestPublishAndActiveGraph(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.ActiveGraph(ctx, "T")
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)

	g, err := domain.ParseGraph([]byte(testGraph))
	require.NoError(t, err)

	first, err := s.Publish(ctx, "T", "v1", g)
	require.NoError(t, err)
	second, err := s.Publish(ctx, "T", "v2", g)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	active, err := s.ActiveGraph(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, second, active.ActivationID)
	assert.Equal(t, 4, active.Graph.Len())
	next, ok := active.Graph.Next("ask", domain.HandleNext)
	require.True(t, ok)
	assert.Equal(t, "thanks", next)
}

func TestEngineOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g, err := domain.ParseGraph([]byte(testGraph))
	require.NoError(t, err)
	_, err = s.Publish(ctx, "T", "v1", g)
	require.NoError(t, err)

	engine := flow.NewEngine(s, s, executor.New(nil), flow.Config{})
	send := func(text string) *flow.TurnResult {
		return engine.ProcessMessage(ctx, flow.Inbound{TenantID: "T", UserChannelID: "U", Text: text, Channel: domain.ChannelWebChat})
	}

	first := send("hi")
	assert.Equal(t, []string{"Hi!"}, first.Responses)
	assert.Equal(t, domain.StatusWaitingInput, first.SessionStatus)

	second := send("Ana")
	assert.Equal(t, []string{"Nice to meet you, Ana."}, second.Responses)
	assert.Equal(t, domain.StatusCompleted, second.SessionStatus)
	assert.Equal(t, first.SessionID, second.SessionID)

	stored, err := s.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored.StateData["name"])

	history, err := s.ListMessages(ctx, first.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}
