package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Rrens/flowbot/internal/api/response"
	"github.com/Rrens/flowbot/internal/channel"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxWebhookBody = 1 << 20

// Deduplicator remembers delivered message ids
type Deduplicator interface {
	FirstDelivery(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// WhatsAppHandler receives WhatsApp Cloud API webhooks
type WhatsAppHandler struct {
	engine      TurnProcessor
	sender      channel.Sender
	tenants     channel.TenantResolver
	dedup       Deduplicator
	verifyToken string
	appSecret   []byte
}

// NewWhatsAppHandler creates the webhook handler. An empty appSecret disables
// signature verification; a nil dedup processes every delivery.
func NewWhatsAppHandler(engine TurnProcessor, sender channel.Sender, tenants channel.TenantResolver, dedup Deduplicator, verifyToken, appSecret string) *WhatsAppHandler {
	return &WhatsAppHandler{
		engine:      engine,
		sender:      sender,
		tenants:     tenants,
		dedup:       dedup,
		verifyToken: verifyToken,
		appSecret:   []byte(appSecret),
	}
}

// Verify answers the hub subscription challenge
func (h *WhatsAppHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		response.Forbidden(w, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

// Receive runs one turn per delivered message and sends the replies back
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if len(h.appSecret) > 0 && !security.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		response.Unauthorized(w, "invalid signature")
		return
	}

	var payload channel.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		response.BadRequest(w, "invalid webhook payload")
		return
	}

	processed := 0
	for _, msg := range payload.Extract() {
		logger := log.With().
			Str("component", "whatsapp").
			Str("phone_number_id", msg.PhoneNumberID).
			Str("message_id", msg.MessageID).
			Logger()

		tenantID, ok := h.tenants.Resolve(msg.PhoneNumberID)
		if !ok {
			logger.Warn().Msg("No tenant mapped to phone number, dropping message")
			continue
		}

		if !h.firstDelivery(r.Context(), logger, msg.MessageID) {
			logger.Info().Str("tenant_id", tenantID).Msg("Duplicate delivery, skipping")
			continue
		}

		result := h.engine.ProcessMessage(r.Context(), msg.Inbound(tenantID))
		processed++
		if result.SessionID == uuid.Nil {
			// Nothing was persisted, so a redelivery may run the turn.
			h.forget(r.Context(), logger, msg.MessageID)
		}
		for _, text := range result.Responses {
			reply := channel.Reply{PhoneNumberID: msg.PhoneNumberID, To: msg.From, Body: text}
			if err := h.sender.Send(r.Context(), reply); err != nil {
				// The turn is already persisted; a failed delivery is not retried.
				logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to send reply")
				break
			}
		}
	}

	// Parsed deliveries are always acknowledged; a non-2xx makes Meta redeliver them.
	response.OK(w, map[string]int{"processed": processed})
}

// firstDelivery reports whether the message should run. Dedup failures let it through.
func (h *WhatsAppHandler) firstDelivery(ctx context.Context, logger zerolog.Logger, messageID string) bool {
	if h.dedup == nil || messageID == "" {
		return true
	}
	first, err := h.dedup.FirstDelivery(ctx, messageID)
	if err != nil {
		logger.Warn().Err(err).Msg("Delivery dedup unavailable")
		return true
	}
	return first
}

func (h *WhatsAppHandler) forget(ctx context.Context, logger zerolog.Logger, messageID string) {
	if h.dedup == nil || messageID == "" {
		return
	}
	if err := h.dedup.Forget(context.WithoutCancel(ctx), messageID); err != nil {
		logger.Warn().Err(err).Msg("Failed to forget delivery")
	}
}
