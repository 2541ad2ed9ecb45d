package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// AddMessage inserts an immutable message row
func (r *SessionRepository) AddMessage(ctx context.Context, message *domain.ConversationMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.ContentType == "" {
		message.ContentType = domain.ContentText
	}

	var metadataJSON []byte
	if message.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO conversation_messages (id, session_id, content, content_type, from_user, node_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		message.ID,
		message.SessionID,
		message.Content,
		string(message.ContentType),
		message.FromUser,
		message.NodeID,
		metadataJSON,
	).Scan(&message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns the latest limit messages of a session in chronological order.
// A limit of zero returns the whole log.
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	query := `
		SELECT id, session_id, content, content_type, from_user, node_id, metadata, created_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT NULLIF($2, 0)
		) latest
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ConversationMessage
	for rows.Next() {
		var (
			m            domain.ConversationMessage
			contentType  string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&m.ID,
			&m.SessionID,
			&m.Content,
			&contentType,
			&m.FromUser,
			&m.NodeID,
			&metadataJSON,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ContentType = domain.ContentType(contentType)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
