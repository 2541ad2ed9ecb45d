package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GraphRepository reads and publishes tenant flows
type GraphRepository struct {
	pool *pgxpool.Pool
}

// NewGraphRepository creates a new graph repository
func NewGraphRepository(pool *pgxpool.Pool) *GraphRepository {
	return &GraphRepository{pool: pool}
}

// ActiveGraph returns the graph of the tenant's active activation
func (r *GraphRepository) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	query := `
		SELECT a.id, t.graph
		FROM flow_activations a
		JOIN flow_templates t ON t.id = a.template_id
		WHERE a.tenant_id = $1 AND a.is_active
		ORDER BY a.activated_at DESC
		LIMIT 1
	`
	var (
		activationID uuid.UUID
		raw          []byte
	)
	if err := r.pool.QueryRow(ctx, query, tenantID).Scan(&activationID, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoActiveFlow
		}
		return nil, fmt.Errorf("failed to load active flow: %w", err)
	}

	graph, err := domain.ParseGraph(raw)
	if err != nil {
		return nil, fmt.Errorf("activation %s: %w", activationID, err)
	}
	return &domain.ActiveGraph{ActivationID: activationID.String(), TenantID: tenantID, Graph: graph}, nil
}

// Publish stores graph as a new template and makes it the tenant's only active activation
func (r *GraphRepository) Publish(ctx context.Context, tenantID, name string, graph *domain.Graph) (string, error) {
	raw, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	templateID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_templates (id, tenant_id, name, graph) VALUES ($1, $2, $3, $4)`,
		templateID, tenantID, name, raw,
	); err != nil {
		return "", fmt.Errorf("failed to insert template: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE flow_activations SET is_active = FALSE WHERE tenant_id = $1 AND is_active`,
		tenantID,
	); err != nil {
		return "", fmt.Errorf("failed to deactivate flows: %w", err)
	}
	activationID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_activations (id, tenant_id, template_id) VALUES ($1, $2, $3)`,
		activationID, tenantID, templateID,
	); err != nil {
		return "", fmt.Errorf("failed to activate flow: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit publish: %w", err)
	}
	return activationID.String(), nil
}
