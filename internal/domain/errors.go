package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoActiveFlow     = errors.New("no active flow for tenant")
	ErrNodeNotFound     = errors.New("node not found")
	ErrInvalidGraph     = errors.New("invalid graph definition")
	ErrLockTimeout      = errors.New("timed out waiting for session lock")
	ErrSlotUnavailable  = errors.New("requested slot is not available")
	ErrMissingVariable  = errors.New("required variable missing from state")
	ErrTenantMismatch   = errors.New("tenant mismatch")
	ErrInvalidStatus    = errors.New("invalid session status")
	ErrUnsupportedStore = errors.New("unsupported storage driver")
	ErrSessionClosed    = errors.New("session is closed")
)

// SessionClosedError is returned when an update targets a session that
// already reached a terminal status, e.g. one expired by the sweeper mid-turn.
type SessionClosedError struct {
	Status SessionStatus
}

func (e *SessionClosedError) Error() string {
	return "session is closed: " + string(e.Status)
}

func (e *SessionClosedError) Is(target error) bool {
	return target == ErrSessionClosed
}
