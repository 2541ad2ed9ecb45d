package domain

import "github.com/google/uuid"

// ExecutionContext is built per node evaluation and never persisted
type ExecutionContext struct {
	TenantID  string
	SessionID uuid.UUID
	UserID    string
	NodeID    string
	State     StateData
}
