package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Rrens/flowbot/internal/api/middleware"
	"github.com/Rrens/flowbot/internal/api/response"
	"github.com/Rrens/flowbot/internal/channel"
	"github.com/Rrens/flowbot/internal/flow"
)

const maxChatBody = 64 << 10

// TurnProcessor runs one conversation turn
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, in flow.Inbound) *flow.TurnResult
}

// ChatHandler serves the web-chat channel
type ChatHandler struct {
	engine  TurnProcessor
	limiter middleware.Limiter
}

// NewChatHandler creates a chat handler; limiter may be nil
func NewChatHandler(engine TurnProcessor, limiter middleware.Limiter) *ChatHandler {
	return &ChatHandler{engine: engine, limiter: limiter}
}

// Send runs one web-chat turn for the URL tenant
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.GetTenantID(r.Context())
	if !ok {
		response.BadRequest(w, "missing tenant ID")
		return
	}

	var req channel.WebChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, fieldErrors(err))
		return
	}

	if !middleware.Enforce(w, r, h.limiter, req.RateKey(tenantID)) {
		return
	}

	result := h.engine.ProcessMessage(r.Context(), req.Inbound(tenantID))
	response.OK(w, result)
}
