package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/flow"
)

// WebhookPayload is the subset of a WhatsApp Cloud API webhook the bot reads
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string     `json:"type"`
		ButtonReply *replyItem `json:"button_reply,omitempty"`
		ListReply   *replyItem `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type replyItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// IncomingMessage is one user text extracted from a webhook delivery
type IncomingMessage struct {
	PhoneNumberID string
	From          string
	MessageID     string
	Text          string
}

// Extract returns the text-bearing messages of a delivery in order.
// Status callbacks and media without captions are skipped.
func (p *WebhookPayload) Extract() []IncomingMessage {
	var out []IncomingMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				text := messageText(m)
				if text == "" || m.From == "" {
					continue
				}
				out = append(out, IncomingMessage{
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					From:          m.From,
					MessageID:     m.ID,
					Text:          text,
				})
			}
		}
	}
	return out
}

func messageText(m webhookMessage) string {
	switch {
	case m.Text != nil:
		return strings.TrimSpace(m.Text.Body)
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return replyText(m.Interactive.ButtonReply)
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return replyText(m.Interactive.ListReply)
	case m.Button != nil:
		if m.Button.Text != "" {
			return m.Button.Text
		}
		return m.Button.Payload
	}
	return ""
}

func replyText(r *replyItem) string {
	if r.Title != "" {
		return r.Title
	}
	return r.ID
}

// TenantResolver maps a business phone number id to the tenant that owns it
type TenantResolver map[string]string

// Resolve returns the tenant of phoneNumberID
func (r TenantResolver) Resolve(phoneNumberID string) (string, bool) {
	tenant, ok := r[phoneNumberID]
	return tenant, ok && tenant != ""
}

// Inbound converts an extracted message for the engine
func (m IncomingMessage) Inbound(tenantID string) flow.Inbound {
	return flow.Inbound{
		TenantID:      tenantID,
		UserChannelID: m.From,
		Text:          m.Text,
		Channel:       domain.ChannelWhatsApp,
	}
}

// Reply is one outbound text addressed to a user
type Reply struct {
	PhoneNumberID string
	To            string
	Body          string
}

// Sender delivers bot replies back to the user
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// CloudSender posts text messages to the WhatsApp Cloud API
type CloudSender struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

// NewCloudSender creates a sender from config
func NewCloudSender(cfg config.WhatsAppConfig) *CloudSender {
	return &CloudSender{
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (s *CloudSender) Send(ctx context.Context, reply Reply) error {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               reply.To,
		Type:             "text",
	}
	req.Text.Body = reply.Body

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, reply.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
