package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionColumns = `id, tenant_id, user_channel_id, channel_type, current_node_id,
	active_flow_activation_id, state_data, status, metadata, last_interaction_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) FindActiveSession(ctx context.Context, tenantID, userChannelID string, channel domain.ChannelType) (*domain.ConversationSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM conversation_sessions
		WHERE tenant_id = ? AND user_channel_id = ? AND channel_type = ?
		  AND status IN ('active', 'waiting_input')
		ORDER BY last_interaction_at DESC
		LIMIT 1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, tenantID, userChannelID, string(channel)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.StateData == nil {
		session.StateData = domain.StateData{}
	}
	stateJSON, metaJSON, err := marshalSessionMaps(session)
	if err != nil {
		return err
	}
	now := s.millis()

	query := `INSERT INTO conversation_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID.String(),
		session.TenantID,
		session.UserChannelID,
		string(session.ChannelType),
		nullString(session.CurrentNodeID),
		nullString(session.ActiveFlowActivationID),
		stateJSON,
		string(session.Status),
		metaJSON,
		now,
		now,
	); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.CreatedAt = fromMillis(now)
	session.LastInteractionAt = session.CreatedAt
	return nil
}

// UpdateSession merges the delta inside a transaction; MySQL locks the row with FOR UPDATE
func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, update domain.SessionUpdate) (*domain.ConversationSession, error) {
	var out *domain.ConversationSession
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE id = ?` + s.d.forUpdate
		sess, err := scanSession(tx.QueryRowContext(ctx, query, id.String()))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		if !sess.Status.IsOpen() {
			return &domain.SessionClosedError{Status: sess.Status}
		}

		update.Apply(sess)
		now := s.millis()
		sess.LastInteractionAt = fromMillis(now)

		stateJSON, metaJSON, err := marshalSessionMaps(sess)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversation_sessions
			SET current_node_id = ?, active_flow_activation_id = ?, status = ?,
			    state_data = ?, metadata = ?, last_interaction_at = ?
			WHERE id = ?`,
			nullString(sess.CurrentNodeID),
			nullString(sess.ActiveFlowActivationID),
			string(sess.Status),
			stateJSON,
			metaJSON,
			now,
			id.String(),
		); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET status = ?, last_interaction_at = ? WHERE id = ?`,
		string(status), s.millis(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM conversation_sessions WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ExpireInactive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversation_sessions SET status = 'expired'
		WHERE status IN ('active', 'waiting_input') AND last_interaction_at < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) AddMessage(ctx context.Context, message *domain.ConversationMessage) error {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.ContentType == "" {
		message.ContentType = domain.ContentText
	}
	var meta sql.NullString
	if message.Metadata != nil {
		b, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	now := s.millis()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, content, content_type, from_user, node_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID.String(),
		message.SessionID.String(),
		message.Content,
		string(message.ContentType),
		message.FromUser,
		nullString(message.NodeID),
		meta,
		now,
	); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	message.CreatedAt = fromMillis(now)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, content, content_type, from_user, node_id, metadata, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		sessionID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ConversationMessage
	for rows.Next() {
		var (
			m           domain.ConversationMessage
			contentType string
			nodeID      sql.NullString
			meta        sql.NullString
			created     int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &contentType, &m.FromUser, &nodeID, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ContentType = domain.ContentType(contentType)
		m.NodeID = ptrString(nodeID)
		m.CreatedAt = fromMillis(created)
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) LogNodeTransition(ctx context.Context, transition domain.NodeTransition) {
	var meta sql.NullString
	if transition.Metadata != nil {
		if b, err := json.Marshal(transition.Metadata); err == nil {
			meta = sql.NullString{String: string(b), Valid: true}
		}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO node_transitions (session_id, tenant_id, from_node_id, to_node_id, handle, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		transition.SessionID.String(),
		transition.TenantID,
		emptyNull(transition.FromNodeID),
		emptyNull(transition.ToNodeID),
		emptyNull(transition.Handle),
		meta,
		s.millis(),
	); err != nil {
		log.Warn().Err(err).Str("session_id", transition.SessionID.String()).Msg("Failed to log node transition")
	}
}

// CountTransitions returns the number of recorded transitions of a session
func (s *Store) CountTransitions(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM node_transitions WHERE session_id = ?`, sessionID.String()).Scan(&n)
	return n, err
}

func scanSession(row rowScanner) (*domain.ConversationSession, error) {
	var (
		sess       domain.ConversationSession
		channel    string
		status     string
		current    sql.NullString
		activation sql.NullString
		stateJSON  string
		metaJSON   string
		last       int64
		created    int64
	)
	if err := row.Scan(
		&sess.ID,
		&sess.TenantID,
		&sess.UserChannelID,
		&channel,
		&current,
		&activation,
		&stateJSON,
		&status,
		&metaJSON,
		&last,
		&created,
	); err != nil {
		return nil, err
	}
	sess.ChannelType = domain.ChannelType(channel)
	sess.Status = domain.SessionStatus(status)
	sess.CurrentNodeID = ptrString(current)
	sess.ActiveFlowActivationID = ptrString(activation)
	sess.LastInteractionAt = fromMillis(last)
	sess.CreatedAt = fromMillis(created)
	if err := json.Unmarshal([]byte(stateJSON), &sess.StateData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if sess.StateData == nil {
		sess.StateData = domain.StateData{}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &sess, nil
}

func marshalSessionMaps(sess *domain.ConversationSession) (string, string, error) {
	state, err := json.Marshal(sess.StateData)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal state: %w", err)
	}
	meta := sess.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(state), string(metaJSON), nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func emptyNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
