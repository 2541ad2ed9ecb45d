// Package channel translates transport payloads to and from engine turns.
package channel

import (
	"strings"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/flow"
)

// WebChatRequest is the body of a web-chat message post
type WebChatRequest struct {
	UserID  string `json:"user_id" validate:"required,max=191"`
	Message string `json:"message" validate:"required,max=4096"`
}

// Inbound converts the request for the engine
func (r WebChatRequest) Inbound(tenantID string) flow.Inbound {
	return flow.Inbound{
		TenantID:      tenantID,
		UserChannelID: strings.TrimSpace(r.UserID),
		Text:          r.Message,
		Channel:       domain.ChannelWebChat,
	}
}

// RateKey scopes web-chat rate limiting to one user of one tenant
func (r WebChatRequest) RateKey(tenantID string) string {
	return "webchat:" + tenantID + ":" + strings.TrimSpace(r.UserID)
}
