// Package flow runs conversation turns over a tenant's published graph.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/executor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxSteps    = 5
	defaultTurnTimeout = 30 * time.Second
	defaultLockTimeout = 10 * time.Second

	// headroom after the traversal deadline for the closing writes
	persistGrace = 10 * time.Second
)

// Messages are the texts the engine synthesizes on its own
type Messages struct {
	Welcome      string
	Fallback     string
	Greeting     string
	Apology      string
	CycleApology string
	StillWorking string
}

// DefaultMessages returns the built-in engine texts
func DefaultMessages() Messages {
	return Messages{
		Welcome:      "Hello! Welcome, thanks for reaching out.",
		Fallback:     "How can I help you?",
		Greeting:     "Hello! How can I help you today?",
		Apology:      "Sorry, something went wrong on our side. Please try again in a moment.",
		CycleApology: "Sorry, I got a little lost there. Could you tell me again what you need?",
		StillWorking: "This is taking longer than expected. Send any message to continue.",
	}
}

// Config bounds a turn
type Config struct {
	MaxSteps    int
	TurnTimeout time.Duration
	LockTimeout time.Duration
	Messages    Messages
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.Messages.Welcome, d.Welcome)
	fill(&c.Messages.Fallback, d.Fallback)
	fill(&c.Messages.Greeting, d.Greeting)
	fill(&c.Messages.Apology, d.Apology)
	fill(&c.Messages.CycleApology, d.CycleApology)
	fill(&c.Messages.StillWorking, d.StillWorking)
	return c
}

// Inbound is one user message translated from a channel payload
type Inbound struct {
	TenantID      string             `json:"tenant_id" validate:"required"`
	UserChannelID string             `json:"user_channel_id" validate:"required"`
	Text          string             `json:"text"`
	Channel       domain.ChannelType `json:"channel" validate:"required"`
}

// TurnResult is what a channel adapter renders back to the user
type TurnResult struct {
	Responses         []string             `json:"responses"`
	SessionID         uuid.UUID            `json:"session_id"`
	SessionStatus     domain.SessionStatus `json:"session_status"`
	IsNewConversation bool                 `json:"is_new_conversation"`
}

// Engine advances conversations through their tenant's graph
type Engine struct {
	store  domain.SessionStore
	graphs domain.GraphSource
	exec   *executor.Executor
	locker Locker
	cfg    Config
	now    func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker replaces the in-process lock, e.g. with a Redis lock shared by replicas
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithClock overrides time.Now for the turn deadline
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine
func NewEngine(store domain.SessionStore, graphs domain.GraphSource, exec *executor.Executor, cfg Config, opts ...Option) *Engine {
	if exec == nil {
		exec = executor.New(nil)
	}
	e := &Engine{
		store:  store,
		graphs: graphs,
		exec:   exec,
		locker: NewKeyedMutex(),
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turn is the working state of one ProcessMessage call
type turn struct {
	in        Inbound
	session   *domain.ConversationSession
	isNew     bool
	responses []string
	steps     int
	outcome   string
	err       error

	update domain.SessionUpdate
	end    domain.SessionStatus

	logger zerolog.Logger
}

func (t *turn) setStatus(s domain.SessionStatus) {
	t.update.Status = &s
}

func (t *turn) setPosition(nodeID string) {
	t.update.CurrentNodeID = &nodeID
	t.update.ClearCurrentNode = false
}

func (t *turn) clearPosition() {
	t.update.CurrentNodeID = nil
	t.update.ClearCurrentNode = true
}

func (t *turn) mergeState(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if t.update.StateData == nil {
		t.update.StateData = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		t.update.StateData[k] = v
	}
}

func (t *turn) mergeMetadata(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if t.update.Metadata == nil {
		t.update.Metadata = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		t.update.Metadata[k] = v
	}
}

// ProcessMessage runs one turn. It never returns an error: failures come
// back as an apology with session status failed.
func (e *Engine) ProcessMessage(ctx context.Context, in Inbound) (result *TurnResult) {
	started := e.now()
	t := &turn{
		in: in,
		logger: log.With().
			Str("component", "flow").
			Str("tenant_id", in.TenantID).
			Str("user_channel_id", in.UserChannelID).
			Str("channel", string(in.Channel)).
			Logger(),
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	unlock, err := e.locker.Lock(lockCtx, SessionKey(in.TenantID, in.UserChannelID, in.Channel))
	cancel()
	if err != nil {
		return e.fail(ctx, t, fmt.Errorf("failed to acquire session lock: %w", err))
	}
	defer unlock()

	// Once locked, the turn no longer follows the caller: a dropped HTTP client
	// must not abort the writes halfway and leave the session failed.
	ctx, cancelTurn := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.TurnTimeout+persistGrace)
	defer cancelTurn()

	defer func() {
		if r := recover(); r != nil {
			result = e.fail(ctx, t, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := e.run(ctx, t, started); err != nil {
		return e.fail(ctx, t, err)
	}

	t.logger.Info().
		Str("session_id", t.session.ID.String()).
		Str("outcome", t.outcome).
		Str("status", string(t.session.Status)).
		Int("steps", t.steps).
		Int("responses", len(t.responses)).
		Dur("duration", time.Since(started)).
		Msg("Turn processed")

	return &TurnResult{
		Responses:         t.responses,
		SessionID:         t.session.ID,
		SessionStatus:     t.session.Status,
		IsNewConversation: t.isNew,
	}
}

func (e *Engine) run(ctx context.Context, t *turn, started time.Time) error {
	if err := e.resolveSession(ctx, t); err != nil {
		return err
	}

	if err := e.store.AddMessage(ctx, domain.NewUserMessage(t.session.ID, t.in.Text)); err != nil {
		return fmt.Errorf("failed to record inbound message: %w", err)
	}

	resuming := t.session.Status == domain.StatusWaitingInput
	if resuming {
		if variable := t.session.AwaitingVariable(); variable != "" {
			t.mergeState(map[string]any{variable: t.in.Text})
		}
		t.setStatus(domain.StatusActive)
		t.mergeMetadata(map[string]any{domain.MetaAwaitingVariable: nil})
	}

	active, err := e.graphs.ActiveGraph(ctx, t.in.TenantID)
	switch {
	case errors.Is(err, domain.ErrNoActiveFlow):
		t.logger.Warn().Msg("No active flow for tenant")
		t.outcome = "no_flow"
		return e.finalize(ctx, t)
	case err != nil:
		return fmt.Errorf("failed to load graph: %w", err)
	}
	graph := active.Graph

	position := t.session.CurrentNodeID
	if bound := t.session.ActiveFlowActivationID; bound == nil || *bound != active.ActivationID {
		if bound != nil {
			t.logger.Info().
				Str("from_activation", *bound).
				Str("to_activation", active.ActivationID).
				Msg("Flow activation changed, restarting conversation")
			position = nil
			resuming = false
			t.clearPosition()
		}
		id := active.ActivationID
		t.update.ActiveFlowActivationID = &id
	}

	var startID string
	switch {
	case resuming && position != nil:
		next, ok := graph.Next(*position, domain.HandleNext)
		if _, exists := graph.Node(*position); exists && !ok {
			t.clearPosition()
			t.end = domain.StatusCompleted
			t.outcome = "completed"
			return e.finalize(ctx, t)
		}
		if ok {
			startID = next
		} else {
			startID = *position
		}
	case position != nil:
		startID = *position
	default:
		id, ok := ResolveEntry(graph)
		if !ok {
			t.logger.Warn().Msg("Graph has no nodes")
			e.say(ctx, t, e.cfg.Messages.Greeting, "")
			t.outcome = "empty_graph"
			return e.finalize(ctx, t)
		}
		startID = id
	}

	e.traverse(ctx, t, graph, startID, started)
	return e.finalize(ctx, t)
}

func (e *Engine) resolveSession(ctx context.Context, t *turn) error {
	session, err := e.store.FindActiveSession(ctx, t.in.TenantID, t.in.UserChannelID, t.in.Channel)
	if err == nil {
		t.session = session
		return nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("failed to find session: %w", err)
	}

	session = &domain.ConversationSession{
		ID:            uuid.New(),
		TenantID:      t.in.TenantID,
		UserChannelID: t.in.UserChannelID,
		ChannelType:   t.in.Channel,
		StateData:     domain.StateData{},
		Status:        domain.StatusActive,
		Metadata:      map[string]any{},
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	t.session = session
	t.isNew = true
	t.logger.Info().Str("session_id", session.ID.String()).Msg("Conversation started")
	return nil
}

func (e *Engine) traverse(ctx context.Context, t *turn, graph *domain.Graph, startID string, started time.Time) {
	state := t.session.StateData.Merge(t.update.StateData)
	visited := make(map[string]bool)
	deadline := started.Add(e.cfg.TurnTimeout)
	currentID := startID
	from := ""

	for step := 0; ; step++ {
		if step >= e.cfg.MaxSteps {
			t.logger.Warn().Str("pending_node", currentID).Msg("Step ceiling reached, checkpointing")
			t.setPosition(currentID)
			t.setStatus(domain.StatusActive)
			t.outcome = "step_limit"
			return
		}
		if step > 0 && e.now().After(deadline) {
			t.logger.Warn().Str("pending_node", currentID).Msg("Turn deadline exceeded, checkpointing")
			e.say(ctx, t, e.cfg.Messages.StillWorking, "")
			t.setPosition(currentID)
			t.setStatus(domain.StatusActive)
			t.outcome = "timeout"
			return
		}

		node, ok := graph.Node(currentID)
		if !ok {
			recovered, found := RecoverNode(graph, currentID)
			if !found {
				t.logger.Warn().Str("node_id", currentID).Msg("Node not found and no similar node")
				if step == 0 {
					e.say(ctx, t, e.cfg.Messages.Greeting, "")
				}
				t.clearPosition()
				t.setStatus(domain.StatusActive)
				t.outcome = "unresolved"
				return
			}
			t.logger.Warn().Str("node_id", currentID).Str("recovered", recovered.ID).Msg("Recovered missing node")
			node = recovered
		}

		if visited[node.ID] {
			t.logger.Error().Str("node_id", node.ID).Int("step", step).Msg("Cycle detected in flow graph")
			e.say(ctx, t, e.cfg.Messages.CycleApology, "")
			t.clearPosition()
			t.setStatus(domain.StatusActive)
			t.outcome = "cycle"
			return
		}
		visited[node.ID] = true
		t.steps++

		res := e.exec.Execute(ctx, node, domain.ExecutionContext{
			TenantID:  t.in.TenantID,
			SessionID: t.session.ID,
			UserID:    t.in.UserChannelID,
			NodeID:    node.ID,
			State:     state,
		})

		if len(res.StateUpdates) > 0 {
			state = state.Merge(res.StateUpdates)
			t.mergeState(res.StateUpdates)
		}
		t.mergeMetadata(res.Metadata)
		if res.Response != "" {
			e.say(ctx, t, res.Response, node.ID)
		}

		e.store.LogNodeTransition(ctx, domain.NodeTransition{
			SessionID:  t.session.ID,
			TenantID:   t.in.TenantID,
			FromNodeID: from,
			ToNodeID:   node.ID,
			Handle:     res.Handle,
		})

		if res.Suspend {
			t.setPosition(node.ID)
			t.setStatus(domain.StatusWaitingInput)
			var awaiting any
			if res.AwaitVariable != "" {
				awaiting = res.AwaitVariable
			}
			t.mergeMetadata(map[string]any{domain.MetaAwaitingVariable: awaiting})
			t.outcome = "suspended"
			return
		}

		if res.Terminal != "" {
			t.clearPosition()
			t.end = res.Terminal
			t.outcome = string(res.Terminal)
			return
		}

		next, ok := graph.Next(node.ID, res.Handle)
		if !ok {
			t.clearPosition()
			if res.Handle == domain.HandleError {
				t.logger.Warn().Str("node_id", node.ID).Msg("Node failed with no error edge, aborting turn")
				t.setStatus(domain.StatusActive)
				t.outcome = "aborted"
				return
			}
			t.end = domain.StatusCompleted
			t.outcome = "completed"
			return
		}

		from = node.ID
		currentID = next
	}
}

// say records an outbound response. nodeID is empty for synthesized texts.
func (e *Engine) say(ctx context.Context, t *turn, text, nodeID string) {
	t.responses = append(t.responses, text)
	if err := e.store.AddMessage(ctx, domain.NewBotMessage(t.session.ID, text, nodeID)); err != nil {
		t.err = fmt.Errorf("failed to record response: %w", err)
	}
}

func (e *Engine) finalize(ctx context.Context, t *turn) error {
	if t.isNew && !anyGreeting(t.responses) {
		t.responses = append([]string{e.cfg.Messages.Welcome}, t.responses...)
		if err := e.store.AddMessage(ctx, domain.NewBotMessage(t.session.ID, e.cfg.Messages.Welcome, "")); err != nil {
			t.err = fmt.Errorf("failed to record welcome: %w", err)
		}
	}
	if len(t.responses) == 0 {
		e.say(ctx, t, e.cfg.Messages.Fallback, "")
	}
	if t.err != nil {
		return t.err
	}

	updated, err := e.store.UpdateSession(ctx, t.session.ID, t.update)
	if err != nil {
		var closed *domain.SessionClosedError
		if errors.As(err, &closed) {
			t.logger.Warn().
				Str("session_id", t.session.ID.String()).
				Str("status", string(closed.Status)).
				Msg("Session closed during turn, discarding its position")
			t.session.Status = closed.Status
			t.outcome = "closed"
			return nil
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	t.session = updated

	if t.end != "" {
		if err := e.store.EndSession(ctx, t.session.ID, t.end); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		t.session.Status = t.end
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, t *turn, cause error) *TurnResult {
	t.logger.Error().Err(cause).Msg("Turn failed")

	result := &TurnResult{
		Responses:         []string{e.cfg.Messages.Apology},
		SessionStatus:     domain.StatusFailed,
		IsNewConversation: t.isNew,
	}
	if t.session == nil {
		return result
	}
	result.SessionID = t.session.ID

	bg := context.WithoutCancel(ctx)
	if err := e.store.AddMessage(bg, domain.NewBotMessage(t.session.ID, e.cfg.Messages.Apology, "")); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to record apology")
	}
	if _, err := e.store.UpdateSession(bg, t.session.ID, domain.SessionUpdate{
		Metadata: map[string]any{domain.MetaLastError: cause.Error()},
	}); err != nil {
		var closed *domain.SessionClosedError
		if errors.As(err, &closed) {
			// Keep the status whoever closed it chose.
			result.SessionStatus = closed.Status
			return result
		}
		t.logger.Warn().Err(err).Msg("Failed to record turn error")
	}
	if err := e.store.EndSession(bg, t.session.ID, domain.StatusFailed); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to mark session failed")
	}
	return result
}

func anyGreeting(responses []string) bool {
	for _, r := range responses {
		if LooksLikeGreeting(r) {
			return true
		}
	}
	return false
}
