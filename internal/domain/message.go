package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentType tags the payload kind of a message
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
	ContentSystem   ContentType = "system"
	ContentButtons  ContentType = "buttons"
	ContentList     ContentType = "list"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
)

// ConversationMessage is one inbound or outbound turn, immutable once written
type ConversationMessage struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   uuid.UUID      `json:"session_id"`
	Content     string         `json:"content"`
	ContentType ContentType    `json:"content_type"`
	FromUser    bool           `json:"from_user"`
	NodeID      *string        `json:"node_id,omitempty"` // Bot messages only
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewUserMessage builds an inbound text message
func NewUserMessage(sessionID uuid.UUID, text string) *ConversationMessage {
	return &ConversationMessage{
		SessionID:   sessionID,
		Content:     text,
		ContentType: ContentText,
		FromUser:    true,
	}
}

// NewBotMessage builds an outbound message; nodeID may be empty for synthesized replies
func NewBotMessage(sessionID uuid.UUID, text, nodeID string) *ConversationMessage {
	m := &ConversationMessage{
		SessionID:   sessionID,
		Content:     text,
		ContentType: ContentText,
	}
	if nodeID != "" {
		m.NodeID = &nodeID
	} else {
		m.ContentType = ContentSystem
	}
	return m
}
