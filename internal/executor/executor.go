// Package executor evaluates a single graph node against the conversation state.
// It knows nothing about edges; the flow engine decides where a handle leads.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/flowbot/internal/action"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/expr"
	"github.com/rs/zerolog/log"
)

// Messages are the user-facing texts the executor falls back to
type Messages struct {
	Apology     string
	UnknownNode string
}

// DefaultMessages returns the built-in fallback texts
func DefaultMessages() Messages {
	return Messages{
		Apology:     "Sorry, something went wrong on our side. Please try again in a moment.",
		UnknownNode: "Sorry, I didn't quite get that. Let's keep going.",
	}
}

// Result is the outcome of evaluating one node.
//
// A suspended result carries no handle; the engine persists waiting_input and
// stops. StateUpdates is a delta where nil values delete keys.
type Result struct {
	Handle        string
	Suspend       bool
	Response      string
	StateUpdates  map[string]any
	Metadata      map[string]any
	AwaitVariable string
	Terminal      domain.SessionStatus
}

// Executor dispatches nodes by kind
type Executor struct {
	actions *action.Registry
	msgs    Messages
}

// Option configures an Executor
type Option func(*Executor)

// WithMessages overrides non-empty fallback texts
func WithMessages(m Messages) Option {
	return func(e *Executor) {
		if m.Apology != "" {
			e.msgs.Apology = m.Apology
		}
		if m.UnknownNode != "" {
			e.msgs.UnknownNode = m.UnknownNode
		}
	}
}

// New creates an executor. actions may be nil when no action nodes are used.
func New(actions *action.Registry, opts ...Option) *Executor {
	if actions == nil {
		actions = action.NewRegistry()
	}
	e := &Executor{actions: actions, msgs: DefaultMessages()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute evaluates node. It never panics and never returns an error:
// failures become the apology text plus the "error" handle.
func (e *Executor) Execute(ctx context.Context, node *domain.Node, ec domain.ExecutionContext) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tenant_id", ec.TenantID).
				Str("node_id", node.ID).
				Interface("panic", r).
				Msg("Node execution panicked")
			res = e.failure(fmt.Errorf("panic: %v", r))
		}
	}()

	state := ec.State
	if state == nil {
		state = domain.StateData{}
	}

	switch d := node.Data.(type) {
	case domain.StartData:
		return &Result{Handle: domain.HandleNext}

	case domain.MessageData:
		res := &Result{Response: Render(d.Text, state)}
		if d.WaitForReply {
			res.Suspend = true
			return res
		}
		res.Handle = domain.HandleNext
		return res

	case domain.InputData:
		variable := d.Variable
		if variable == "" {
			variable = "input_" + node.ID
		}
		return &Result{
			Suspend:       true,
			Response:      Render(d.Prompt, state),
			AwaitVariable: variable,
		}

	case domain.ConditionalData:
		return &Result{Handle: e.evaluateCondition(node, d, state)}

	case domain.ActionData:
		return e.runAction(ctx, node, d, ec, state)

	case domain.EndData:
		return &Result{
			Handle:   domain.HandleNext,
			Response: Render(d.Text, state),
			Terminal: domain.StatusCompleted,
		}

	case domain.TransferData:
		res := &Result{
			Handle:   domain.HandleNext,
			Response: Render(d.Text, state),
			Terminal: domain.StatusTransferred,
		}
		if d.Queue != "" {
			res.Metadata = map[string]any{domain.MetaTransferQueue: d.Queue}
		}
		return res

	case domain.UnknownData:
		log.Warn().
			Str("tenant_id", ec.TenantID).
			Str("node_id", node.ID).
			Str("type", d.Tag).
			Msg("Unknown node type, passing through")
		return &Result{Handle: domain.HandleNext, Response: e.msgs.UnknownNode}
	}

	log.Warn().Str("node_id", node.ID).Str("type", node.Type).Msg("Node has no data, passing through")
	return &Result{Handle: domain.HandleNext, Response: e.msgs.UnknownNode}
}

func (e *Executor) evaluateCondition(node *domain.Node, d domain.ConditionalData, state domain.StateData) string {
	ok, err := expr.Evaluate(d.Expression, state)
	if err != nil {
		log.Warn().
			Err(err).
			Str("node_id", node.ID).
			Str("expression", d.Expression).
			Msg("Condition evaluation failed, taking no")
		return domain.HandleNo
	}
	if ok {
		return domain.HandleYes
	}
	return domain.HandleNo
}

func (e *Executor) runAction(ctx context.Context, node *domain.Node, d domain.ActionData, ec domain.ExecutionContext, state domain.StateData) *Result {
	out, err := e.invoke(ctx, d, action.Request{
		TenantID:  ec.TenantID,
		SessionID: ec.SessionID,
		UserID:    ec.UserID,
		State:     state.Clone(),
		Config:    d.Config,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", ec.TenantID).
			Str("node_id", node.ID).
			Str("action", string(d.Action)).
			Msg("Business action failed")
		return e.failure(err)
	}

	if out.NextHandle == domain.HandleError {
		// Adapter messages on the error branch may carry internal detail; users get the apology.
		reason := out.Message
		if reason == "" {
			reason = "adapter reported an error"
		}
		log.Warn().
			Str("tenant_id", ec.TenantID).
			Str("node_id", node.ID).
			Str("action", string(d.Action)).
			Str("reason", reason).
			Msg("Business action took the error branch")
		res := e.failure(errors.New(reason))
		if out.Context != nil {
			res.StateUpdates = state.Diff(out.Context)
		}
		return res
	}

	res := &Result{Handle: out.NextHandle}
	if res.Handle == "" {
		res.Handle = domain.HandleNext
	}
	next := state
	if out.Context != nil {
		next = out.Context
		res.StateUpdates = state.Diff(out.Context)
	}
	res.Response = Render(out.Message, next)
	return res
}

func (e *Executor) invoke(ctx context.Context, d domain.ActionData, req action.Request) (out *action.Output, err error) {
	adapter, err := e.actions.Get(d.Action)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("adapter %s panicked: %v", d.Action, r)
		}
	}()
	out, err = adapter.Execute(ctx, req)
	if err == nil && out == nil {
		err = fmt.Errorf("adapter %s returned no output", d.Action)
	}
	return out, err
}

func (e *Executor) failure(err error) *Result {
	return &Result{
		Handle:   domain.HandleError,
		Response: e.msgs.Apology,
		Metadata: map[string]any{domain.MetaLastError: err.Error()},
	}
}
