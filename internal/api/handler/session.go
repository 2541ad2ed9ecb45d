package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Rrens/flowbot/internal/api/middleware"
	"github.com/Rrens/flowbot/internal/api/response"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// GraphInvalidator drops a tenant's cached graph
type GraphInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// SessionHandler serves the operator session API
type SessionHandler struct {
	sessions *service.SessionService
	cache    GraphInvalidator
}

// NewSessionHandler creates a session handler; cache may be nil
func NewSessionHandler(sessions *service.SessionService, cache GraphInvalidator) *SessionHandler {
	return &SessionHandler{sessions: sessions, cache: cache}
}

func scope(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		response.BadRequest(w, "missing tenant ID")
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return "", uuid.Nil, false
	}
	return tenantID, id, true
}

// Get returns a session snapshot
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scope(w, r)
	if !ok {
		return
	}

	sess, err := h.sessions.Get(r.Context(), tenantID, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, sess)
}

// Messages returns the session's message log
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scope(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			response.BadRequest(w, "invalid limit")
			return
		}
		limit = v
	}

	messages, err := h.sessions.History(r.Context(), tenantID, id, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, messages)
}

type endRequest struct {
	Status string `json:"status" validate:"required,oneof=completed transferred failed expired"`
}

// End closes the session with the requested terminal status
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scope(w, r)
	if !ok {
		return
	}

	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, fieldErrors(err))
		return
	}

	sess, err := h.sessions.End(r.Context(), tenantID, id, domain.SessionStatus(req.Status))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.OK(w, sess)
}

// FlushFlowCache drops the tenant's cached graph so the next turn reloads it
func (h *SessionHandler) FlushFlowCache(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		response.BadRequest(w, "missing tenant ID")
		return
	}
	if h.cache == nil {
		response.OK(w, map[string]any{"message": "graph cache disabled", "flushed": false})
		return
	}
	if err := h.cache.Invalidate(r.Context(), tenantID); err != nil {
		response.InternalError(w, "failed to flush cache: "+err.Error())
		return
	}
	response.OK(w, map[string]any{"message": "cache flushed successfully", "flushed": true})
}
