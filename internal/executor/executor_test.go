package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/Rrens/flowbot/internal/action"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execCtx(state domain.StateData) domain.ExecutionContext {
	return domain.ExecutionContext{TenantID: "t1", SessionID: uuid.New(), UserID: "u1", State: state}
}

func run(t *testing.T, e *Executor, n domain.Node, state domain.StateData) *Result {
	t.Helper()
	res := e.Execute(context.Background(), &n, execCtx(state))
	require.NotNil(t, res)
	return res
}

func TestExecute_Start(t *testing.T) {
	res := run(t, New(nil), domain.NewNode("start", "start", nil), nil)
	assert.Equal(t, domain.HandleNext, res.Handle)
	assert.False(t, res.Suspend)
	assert.Empty(t, res.Response)
}

func TestExecute_Message(t *testing.T) {
	e := New(nil)

	res := run(t, e, domain.NewNode("m1", "message", map[string]any{"text": "Hi {{name}}!"}), domain.StateData{"name": "Ana"})
	assert.Equal(t, domain.HandleNext, res.Handle)
	assert.Equal(t, "Hi Ana!", res.Response)
	assert.False(t, res.Suspend)

	res = run(t, e, domain.NewNode("m2", "textNode", map[string]any{"message": "Anything else?", "waitForReply": true}), nil)
	assert.True(t, res.Suspend)
	assert.Empty(t, res.Handle)
	assert.Empty(t, res.AwaitVariable)

	res = run(t, e, domain.NewNode("m3", "message", map[string]any{"text": "Reply please", "autoFlow": false}), nil)
	assert.True(t, res.Suspend)
}

func TestExecute_Input(t *testing.T) {
	e := New(nil)

	res := run(t, e, domain.NewNode("ask-name", "input", map[string]any{"prompt": "What is your name?", "variable": "name"}), nil)
	assert.True(t, res.Suspend)
	assert.Equal(t, "What is your name?", res.Response)
	assert.Equal(t, "name", res.AwaitVariable)

	res = run(t, e, domain.NewNode("q7", "question", map[string]any{"question": "Why?"}), nil)
	assert.True(t, res.Suspend)
	assert.Equal(t, "input_q7", res.AwaitVariable)
}

func TestExecute_Conditional(t *testing.T) {
	e := New(nil)
	node := domain.NewNode("adult", "conditional", map[string]any{"condition": "stateData.age >= 18"})

	tests := []struct {
		name  string
		node  domain.Node
		state domain.StateData
		want  string
	}{
		{"adult", node, domain.StateData{"age": 20}, domain.HandleYes},
		{"minor", node, domain.StateData{"age": 10}, domain.HandleNo},
		{"age as text", node, domain.StateData{"age": "42"}, domain.HandleYes},
		{"missing variable", node, domain.StateData{}, domain.HandleNo},
		{"malformed", domain.NewNode("bad", "conditional", map[string]any{"condition": "age >= ("}), domain.StateData{"age": 20}, domain.HandleNo},
		{"empty", domain.NewNode("empty", "if", map[string]any{}), domain.StateData{}, domain.HandleNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, e, tt.node, tt.state)
			assert.Equal(t, tt.want, res.Handle)
			assert.Empty(t, res.Response)
		})
	}
}

func TestExecute_Action(t *testing.T) {
	registry := action.NewRegistry()
	registry.Register(domain.KindQualifyLead, action.AdapterFunc(func(ctx context.Context, req action.Request) (*action.Output, error) {
		next := req.State.Clone()
		next["score"] = 80
		delete(next, "scratch")
		req.State["leaked"] = true
		return &action.Output{NextHandle: domain.HandleYes, Message: "Score {{score}}", Context: next}, nil
	}))
	registry.Register(domain.KindCheckAvailability, action.AdapterFunc(func(ctx context.Context, req action.Request) (*action.Output, error) {
		return nil, errors.New("calendar offline")
	}))
	registry.Register(domain.KindBookAppointment, action.AdapterFunc(func(ctx context.Context, req action.Request) (*action.Output, error) {
		panic("boom")
	}))
	e := New(registry, WithMessages(Messages{Apology: "Oops."}))

	t.Run("success returns state delta", func(t *testing.T) {
		state := domain.StateData{"name": "Ana", "scratch": 1}
		res := run(t, e, domain.NewNode("q", "qualify_lead", map[string]any{}), state)
		assert.Equal(t, domain.HandleYes, res.Handle)
		assert.Equal(t, "Score 80", res.Response)
		assert.Equal(t, map[string]any{"score": 80, "scratch": nil}, res.StateUpdates)
		assert.NotContains(t, state, "leaked")
	})

	t.Run("adapter error", func(t *testing.T) {
		res := run(t, e, domain.NewNode("a", "check_availability", nil), domain.StateData{})
		assert.Equal(t, domain.HandleError, res.Handle)
		assert.Equal(t, "Oops.", res.Response)
		assert.Equal(t, "calendar offline", res.Metadata[domain.MetaLastError])
	})

	t.Run("adapter panic", func(t *testing.T) {
		res := run(t, e, domain.NewNode("b", "booking", nil), domain.StateData{})
		assert.Equal(t, domain.HandleError, res.Handle)
		assert.Equal(t, "Oops.", res.Response)
	})

	t.Run("error handle hides adapter message", func(t *testing.T) {
		r := action.NewRegistry()
		r.Register(domain.KindQualifyLead, action.AdapterFunc(func(ctx context.Context, req action.Request) (*action.Output, error) {
			next := req.State.Clone()
			next["attempts"] = 1
			return &action.Output{NextHandle: domain.HandleError, Message: "pq: connection refused on 10.0.0.5", Context: next}, nil
		}))
		res := run(t, New(r, WithMessages(Messages{Apology: "Oops."})), domain.NewNode("q", "qualify_lead", nil), domain.StateData{})
		assert.Equal(t, domain.HandleError, res.Handle)
		assert.Equal(t, "Oops.", res.Response)
		assert.Equal(t, "pq: connection refused on 10.0.0.5", res.Metadata[domain.MetaLastError])
		assert.Equal(t, map[string]any{"attempts": 1}, res.StateUpdates)
	})

	t.Run("no adapter registered", func(t *testing.T) {
		res := run(t, New(nil), domain.NewNode("b", "book_appointment", nil), domain.StateData{})
		assert.Equal(t, domain.HandleError, res.Handle)
		assert.Equal(t, DefaultMessages().Apology, res.Response)
	})
}

func TestExecute_TerminalKinds(t *testing.T) {
	e := New(nil)

	res := run(t, e, domain.NewNode("bye", "end", map[string]any{"text": "Bye {{name}}"}), domain.StateData{"name": "Ana"})
	assert.Equal(t, domain.StatusCompleted, res.Terminal)
	assert.Equal(t, "Bye Ana", res.Response)

	res = run(t, e, domain.NewNode("agent", "handoff", map[string]any{"text": "Connecting you", "queue": "sales"}), nil)
	assert.Equal(t, domain.StatusTransferred, res.Terminal)
	assert.Equal(t, "sales", res.Metadata[domain.MetaTransferQueue])
}

func TestExecute_Unknown(t *testing.T) {
	res := run(t, New(nil), domain.NewNode("x", "carousel", map[string]any{"items": []any{}}), nil)
	assert.Equal(t, domain.HandleNext, res.Handle)
	assert.Equal(t, DefaultMessages().UnknownNode, res.Response)
}

func TestRender(t *testing.T) {
	state := domain.StateData{
		"name":    "Ana",
		"slots":   []any{"09:00", "09:30"},
		"contact": map[string]any{"city": "Lima"},
		"count":   float64(3),
	}
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"Hi {{name}}", "Hi Ana"},
		{"Hi {{ stateData.name }}", "Hi Ana"},
		{"From {{contact.city}}", "From Lima"},
		{"Open: {{slots}}", "Open: 09:00, 09:30"},
		{"{{count}} left", "3 left"},
		{"Hi {{missing}}!", "Hi !"},
		{"{{ not closed", "{{ not closed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Render(tt.in, state), tt.in)
	}
}
