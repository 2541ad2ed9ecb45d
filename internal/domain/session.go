package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a conversation session
type SessionStatus string

const (
	StatusActive       SessionStatus = "active"
	StatusWaitingInput SessionStatus = "waiting_input"
	StatusCompleted    SessionStatus = "completed"
	StatusExpired      SessionStatus = "expired"
	StatusFailed       SessionStatus = "failed"
	StatusTransferred  SessionStatus = "transferred"
)

// IsOpen reports whether a session in this status can still receive turns
func (s SessionStatus) IsOpen() bool {
	return s == StatusActive || s == StatusWaitingInput
}

// IsTerminal reports whether the status ends a session
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed, StatusTransferred:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// ChannelType identifies the transport a user talks through
type ChannelType string

const (
	ChannelWebChat  ChannelType = "webchat"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// Metadata keys the engine keeps on a session
const (
	MetaAwaitingVariable = "awaiting_variable"
	MetaTransferQueue    = "transfer_queue"
	MetaLastError        = "last_error"
)

// ConversationSession is the persisted position and memory of one user's conversation
type ConversationSession struct {
	ID                     uuid.UUID      `json:"id"`
	TenantID               string         `json:"tenant_id"`
	UserChannelID          string         `json:"user_channel_id"`
	ChannelType            ChannelType    `json:"channel_type"`
	CurrentNodeID          *string        `json:"current_node_id,omitempty"`
	ActiveFlowActivationID *string        `json:"active_flow_activation_id,omitempty"`
	StateData              StateData      `json:"state_data"`
	Status                 SessionStatus  `json:"status"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	LastInteractionAt      time.Time      `json:"last_interaction_at"`
	CreatedAt              time.Time      `json:"created_at"`
}

// AwaitingVariable returns the state variable the next inbound message should fill
func (s *ConversationSession) AwaitingVariable() string {
	if s.Metadata == nil {
		return ""
	}
	v, _ := s.Metadata[MetaAwaitingVariable].(string)
	return v
}

// SessionUpdate carries the deltas of one session write.
// StateData and Metadata are merged key by key; a nil value deletes the key.
type SessionUpdate struct {
	CurrentNodeID          *string
	ClearCurrentNode       bool
	ActiveFlowActivationID *string
	Status                 *SessionStatus
	StateData              map[string]any
	Metadata               map[string]any
}

// Apply folds the update into s. Stores without native JSON merge use it.
func (u SessionUpdate) Apply(s *ConversationSession) {
	if u.ClearCurrentNode {
		s.CurrentNodeID = nil
	} else if u.CurrentNodeID != nil {
		id := *u.CurrentNodeID
		s.CurrentNodeID = &id
	}
	if u.ActiveFlowActivationID != nil {
		id := *u.ActiveFlowActivationID
		s.ActiveFlowActivationID = &id
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	s.StateData = s.StateData.Merge(u.StateData)
	s.Metadata = mergeMap(s.Metadata, u.Metadata)
}

// NodeTransition is one edge traversal recorded for observability
type NodeTransition struct {
	SessionID  uuid.UUID      `json:"session_id"`
	TenantID   string         `json:"tenant_id"`
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id,omitempty"`
	Handle     string         `json:"handle,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SessionStore is the persistence contract consumed by the flow engine.
// Stores set every timestamp themselves.
type SessionStore interface {
	// FindActiveSession returns the active or waiting session of the tuple, or ErrSessionNotFound
	FindActiveSession(ctx context.Context, tenantID, userChannelID string, channel ChannelType) (*ConversationSession, error)
	// CreateSession persists a new session; a nil ID is assigned by the store
	CreateSession(ctx context.Context, session *ConversationSession) error
	// UpdateSession merges the update and returns the stored session. A session
	// that is no longer open is left untouched and a *SessionClosedError returned.
	UpdateSession(ctx context.Context, id uuid.UUID, update SessionUpdate) (*ConversationSession, error)
	// AddMessage appends an immutable message row
	AddMessage(ctx context.Context, message *ConversationMessage) error
	// LogNodeTransition is best-effort; implementations log and swallow failures
	LogNodeTransition(ctx context.Context, transition NodeTransition)
	// EndSession moves the session to a terminal status
	EndSession(ctx context.Context, id uuid.UUID, status SessionStatus) error
}

// SessionQuerier serves operator reads over stored sessions
type SessionQuerier interface {
	GetSession(ctx context.Context, id uuid.UUID) (*ConversationSession, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]ConversationMessage, error)
}

// SessionSweeper expires sessions idle since before the cutoff
type SessionSweeper interface {
	ExpireInactive(ctx context.Context, before time.Time) (int64, error)
}

func mergeMap(dst, delta map[string]any) map[string]any {
	if len(delta) == 0 {
		return dst
	}
	out := make(map[string]any, len(dst)+len(delta))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
