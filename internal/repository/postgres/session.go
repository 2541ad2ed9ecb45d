package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const sessionColumns = `id, tenant_id, user_channel_id, channel_type, current_node_id,
	active_flow_activation_id, state_data, status, metadata, last_interaction_at, created_at`

// SessionRepository implements domain.SessionStore on Postgres.
// State and metadata deltas are merged in SQL so concurrent writers never
// overwrite each other's keys.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) FindActiveSession(ctx context.Context, tenantID, userChannelID string, channel domain.ChannelType) (*domain.ConversationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM conversation_sessions
		WHERE tenant_id = $1 AND user_channel_id = $2 AND channel_type = $3
		  AND status IN ('active', 'waiting_input')
		ORDER BY last_interaction_at DESC
		LIMIT 1
	`
	s, err := scanSession(r.pool.QueryRow(ctx, query, tenantID, userChannelID, string(channel)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.ConversationSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = domain.StatusActive
	}
	if session.StateData == nil {
		session.StateData = domain.StateData{}
	}
	stateJSON, err := json.Marshal(session.StateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	metaJSON, err := marshalObject(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO conversation_sessions
			(id, tenant_id, user_channel_id, channel_type, current_node_id, active_flow_activation_id, state_data, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING last_interaction_at, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		session.ID,
		session.TenantID,
		session.UserChannelID,
		string(session.ChannelType),
		session.CurrentNodeID,
		session.ActiveFlowActivationID,
		stateJSON,
		string(session.Status),
		metaJSON,
	).Scan(&session.LastInteractionAt, &session.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("failed to create session: an open session already exists: %w", err)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) UpdateSession(ctx context.Context, id uuid.UUID, update domain.SessionUpdate) (*domain.ConversationSession, error) {
	stateSet, stateDel, err := splitDelta(update.StateData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state delta: %w", err)
	}
	metaSet, metaDel, err := splitDelta(update.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata delta: %w", err)
	}
	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}

	query := `
		UPDATE conversation_sessions SET
			current_node_id = CASE WHEN $2 THEN NULL ELSE COALESCE($3::text, current_node_id) END,
			active_flow_activation_id = COALESCE($4::text, active_flow_activation_id),
			status = COALESCE($5::text, status),
			state_data = (state_data || $6::jsonb) - $7::text[],
			metadata = (metadata || $8::jsonb) - $9::text[],
			last_interaction_at = now()
		WHERE id = $1 AND status IN ('active', 'waiting_input')
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query,
		id,
		update.ClearCurrentNode,
		update.CurrentNodeID,
		update.ActiveFlowActivationID,
		status,
		stateSet,
		stateDel,
		metaSet,
		metaDel,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.closedOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return s, nil
}

// closedOrMissing explains why an update matched no open row
func (r *SessionRepository) closedOrMissing(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM conversation_sessions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("failed to get session: %w", err)
	}
	return &domain.SessionClosedError{Status: domain.SessionStatus(status)}
}

func (r *SessionRepository) EndSession(ctx context.Context, id uuid.UUID, status domain.SessionStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidStatus, status)
	}
	query := `
		UPDATE conversation_sessions
		SET status = $2, last_interaction_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ExpireInactive marks open sessions idle since before as expired
func (r *SessionRepository) ExpireInactive(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE conversation_sessions
		SET status = 'expired'
		WHERE status IN ('active', 'waiting_input') AND last_interaction_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) LogNodeTransition(ctx context.Context, transition domain.NodeTransition) {
	metaJSON, err := marshalObject(transition.Metadata)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal transition metadata")
		return
	}
	query := `
		INSERT INTO node_transitions (session_id, tenant_id, from_node_id, to_node_id, handle, metadata)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)
	`
	if _, err := r.pool.Exec(ctx, query,
		transition.SessionID,
		transition.TenantID,
		transition.FromNodeID,
		transition.ToNodeID,
		transition.Handle,
		metaJSON,
	); err != nil {
		log.Warn().Err(err).Str("session_id", transition.SessionID.String()).Msg("Failed to log node transition")
	}
}

func scanSession(row pgx.Row) (*domain.ConversationSession, error) {
	var (
		s         domain.ConversationSession
		channel   string
		status    string
		stateJSON []byte
		metaJSON  []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.UserChannelID,
		&channel,
		&s.CurrentNodeID,
		&s.ActiveFlowActivationID,
		&stateJSON,
		&status,
		&metaJSON,
		&s.LastInteractionAt,
		&s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.ChannelType = domain.ChannelType(channel)
	s.Status = domain.SessionStatus(status)
	if err := json.Unmarshal(stateJSON, &s.StateData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if s.StateData == nil {
		s.StateData = domain.StateData{}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &s, nil
}

// splitDelta separates a merge delta into the keys to set and the keys to delete
func splitDelta(delta map[string]any) ([]byte, []string, error) {
	set := make(map[string]any, len(delta))
	del := []string{}
	for k, v := range delta {
		if v == nil {
			del = append(del, k)
			continue
		}
		set[k] = v
	}
	b, err := json.Marshal(set)
	if err != nil {
		return nil, nil, err
	}
	return b, del, nil
}

func marshalObject(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
