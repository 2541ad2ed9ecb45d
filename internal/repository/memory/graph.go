package memory

import (
	"context"
	"sync"

	"github.com/Rrens/flowbot/internal/domain"
)

// GraphSource serves graphs registered per tenant
type GraphSource struct {
	mu     sync.RWMutex
	graphs map[string]*domain.ActiveGraph
}

// NewGraphSource creates an empty source
func NewGraphSource() *GraphSource {
	return &GraphSource{graphs: make(map[string]*domain.ActiveGraph)}
}

// Publish makes graph the active flow of tenantID
func (s *GraphSource) Publish(tenantID, activationID string, graph *domain.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[tenantID] = &domain.ActiveGraph{ActivationID: activationID, TenantID: tenantID, Graph: graph}
}

// Unpublish removes the active flow of tenantID
func (s *GraphSource) Unpublish(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.graphs, tenantID)
}

func (s *GraphSource) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[tenantID]
	if !ok {
		return nil, domain.ErrNoActiveFlow
	}
	return g, nil
}
