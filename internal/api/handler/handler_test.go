package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/flowbot/internal/api/handler"
	"github.com/Rrens/flowbot/internal/api/middleware"
	"github.com/Rrens/flowbot/internal/channel"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/flow"
	"github.com/Rrens/flowbot/internal/repository/redis"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

// echoEngine answers every turn with the inbound text
type echoEngine struct {
	mu    sync.Mutex
	turns []flow.Inbound
}

func (e *echoEngine) ProcessMessage(ctx context.Context, in flow.Inbound) *flow.TurnResult {
	e.mu.Lock()
	e.turns = append(e.turns, in)
	e.mu.Unlock()
	return &flow.TurnResult{
		Responses:     []string{"echo: " + in.Text, "bye"},
		SessionID:     uuid.New(),
		SessionStatus: domain.StatusActive,
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (redis.Decision, error) {
	l.keys = append(l.keys, key)
	return redis.Decision{Allowed: l.allowed, Remaining: 0, ResetAt: time.Date(2026, 10, 14, 8, 1, 0, 0, time.UTC)}, l.err
}

type recordingSender struct {
	replies []channel.Reply
	err     error
}

func (s *recordingSender) Send(ctx context.Context, reply channel.Reply) error {
	s.replies = append(s.replies, reply)
	return s.err
}

// memoryDedup is an in-process Deduplicator
type memoryDedup struct {
	seen map[string]bool
	err  error
}

func (d *memoryDedup) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	return true, nil
}

func (d *memoryDedup) Forget(ctx context.Context, messageID string) error {
	delete(d.seen, messageID)
	return nil
}

// failingEngine answers like an engine that could not persist anything
type failingEngine struct{ calls int }

func (e *failingEngine) ProcessMessage(ctx context.Context, in flow.Inbound) *flow.TurnResult {
	e.calls++
	return &flow.TurnResult{Responses: []string{"sorry"}, SessionStatus: domain.StatusFailed}
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestReadyCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	handler.ReadyCheck(map[string]handler.Pinger{"store": pinger{}})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ReadyCheck(map[string]handler.Pinger{"redis": pinger{err: errors.New("down")}})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(decode(t, rec).Error), "redis not ready")
}

func chatRouter(engine handler.TurnProcessor, limiter middleware.Limiter) http.Handler {
	r := chi.NewRouter()
	r.With(middleware.TenantContext).Post("/tenants/{tenantID}/webchat/messages", handler.NewChatHandler(engine, limiter).Send)
	return r
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler_Send(t *testing.T) {
	engine := &echoEngine{}
	rec := postJSON(chatRouter(engine, nil), "/tenants/shop/webchat/messages", `{"user_id":"v1","message":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result flow.TurnResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, []string{"echo: hello", "bye"}, result.Responses)

	require.Len(t, engine.turns, 1)
	assert.Equal(t, "shop", engine.turns[0].TenantID)
	assert.Equal(t, "v1", engine.turns[0].UserChannelID)
	assert.Equal(t, domain.ChannelWebChat, engine.turns[0].Channel)
}

func TestChatHandler_Validation(t *testing.T) {
	engine := &echoEngine{}
	h := chatRouter(engine, nil)

	rec := postJSON(h, "/tenants/shop/webchat/messages", `{"user_id":"v1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(decode(t, rec).Error), "Message")

	rec = postJSON(h, "/tenants/shop/webchat/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.turns)
}

func TestChatHandler_RateLimited(t *testing.T) {
	engine := &echoEngine{}
	limiter := &stubLimiter{allowed: false}
	rec := postJSON(chatRouter(engine, limiter), "/tenants/shop/webchat/messages", `{"user_id":"v1","message":"hello"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"webchat:shop:v1"}, limiter.keys)
	assert.Empty(t, engine.turns)

	// limiter failures let the turn through
	limiter = &stubLimiter{err: errors.New("redis down")}
	rec = postJSON(chatRouter(engine, limiter), "/tenants/shop/webchat/messages", `{"user_id":"v1","message":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

const webhookBody = `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
	"metadata":{"phone_number_id":"PN1"},
	"messages":[{"from":"5511999","id":"wamid.1","type":"text","text":{"body":"hola"}}]}},
	{"field":"messages","value":{"metadata":{"phone_number_id":"PN9"},
	"messages":[{"from":"5511000","id":"wamid.2","type":"text","text":{"body":"lost"}}]}}]}]}`

func TestWhatsAppHandler_Verify(t *testing.T) {
	h := handler.NewWhatsAppHandler(&echoEngine{}, &recordingSender{}, nil, nil, "tok", "")

	rec := httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWhatsAppHandler_Receive(t *testing.T) {
	engine := &echoEngine{}
	sender := &recordingSender{}
	h := handler.NewWhatsAppHandler(engine, sender, channel.TenantResolver{"PN1": "clinic"}, nil, "tok", "secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody))
	req.Header.Set("X-Hub-Signature-256", security.Sign([]byte("secret"), []byte(webhookBody)))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":1}`, string(decode(t, rec).Data))

	require.Len(t, engine.turns, 1)
	assert.Equal(t, "clinic", engine.turns[0].TenantID)
	assert.Equal(t, domain.ChannelWhatsApp, engine.turns[0].Channel)

	require.Len(t, sender.replies, 2)
	assert.Equal(t, channel.Reply{PhoneNumberID: "PN1", To: "5511999", Body: "echo: hola"}, sender.replies[0])
	assert.Equal(t, "bye", sender.replies[1].Body)
}

func TestWhatsAppHandler_BadSignature(t *testing.T) {
	engine := &echoEngine{}
	h := handler.NewWhatsAppHandler(engine, &recordingSender{}, channel.TenantResolver{"PN1": "clinic"}, nil, "tok", "secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody))
	req.Header.Set("X-Hub-Signature-256", security.Sign([]byte("wrong"), []byte(webhookBody)))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.turns)
}

func TestWhatsAppHandler_SendFailureStillAcknowledged(t *testing.T) {
	sender := &recordingSender{err: errors.New("cloud api down")}
	h := handler.NewWhatsAppHandler(&echoEngine{}, sender, channel.TenantResolver{"PN1": "clinic"}, nil, "tok", "")

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sender.replies, 1)
}

func TestWhatsAppHandler_RedeliveryIsSkipped(t *testing.T) {
	engine := &echoEngine{}
	sender := &recordingSender{}
	dedup := &memoryDedup{seen: map[string]bool{}}
	h := handler.NewWhatsAppHandler(engine, sender, channel.TenantResolver{"PN1": "clinic"}, dedup, "tok", "")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, engine.turns, 1)
	assert.Len(t, sender.replies, 2)
	assert.True(t, dedup.seen["wamid.1"])
	// unmapped phone numbers never reach the deduper
	assert.False(t, dedup.seen["wamid.2"])
}

func TestWhatsAppHandler_DedupFailureStillProcesses(t *testing.T) {
	engine := &echoEngine{}
	h := handler.NewWhatsAppHandler(engine, &recordingSender{}, channel.TenantResolver{"PN1": "clinic"}, &memoryDedup{err: errors.New("redis down")}, "tok", "")

	rec := httptest.NewRecorder()
	h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, engine.turns, 1)
}

func TestWhatsAppHandler_UnpersistedTurnCanBeRedelivered(t *testing.T) {
	engine := &failingEngine{}
	dedup := &memoryDedup{seen: map[string]bool{}}
	h := handler.NewWhatsAppHandler(engine, &recordingSender{}, channel.TenantResolver{"PN1": "clinic"}, dedup, "tok", "")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewBufferString(webhookBody)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2, engine.calls)
	assert.False(t, dedup.seen["wamid.1"])
}
