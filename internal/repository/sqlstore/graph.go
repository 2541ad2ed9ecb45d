package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// ActiveGraph returns the tenant's active flow
func (s *Store) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	var id, raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, graph FROM flow_activations
		WHERE tenant_id = ? AND is_active = ?
		ORDER BY activated_at DESC
		LIMIT 1`,
		tenantID, true,
	).Scan(&id, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoActiveFlow
		}
		return nil, fmt.Errorf("failed to load active flow: %w", err)
	}
	graph, err := domain.ParseGraph([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("activation %s: %w", id, err)
	}
	return &domain.ActiveGraph{ActivationID: id, TenantID: tenantID, Graph: graph}, nil
}

// Publish makes graph the tenant's only active flow and returns the activation id
func (s *Store) Publish(ctx context.Context, tenantID, name string, graph *domain.Graph) (string, error) {
	raw, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}
	id := uuid.NewString()
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE flow_activations SET is_active = ? WHERE tenant_id = ? AND is_active = ?`,
			false, tenantID, true,
		); err != nil {
			return fmt.Errorf("failed to deactivate flows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flow_activations (id, tenant_id, name, graph, is_active, activated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, tenantID, name, string(raw), true, s.millis(),
		); err != nil {
			return fmt.Errorf("failed to insert activation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
