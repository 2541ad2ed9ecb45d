package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// Output is what an adapter hands back to the node executor.
// Context replaces the session state; adapters return the full map.
type Output struct {
	NextHandle string
	Message    string
	Context    domain.StateData
}

// Request carries the inputs of one adapter invocation
type Request struct {
	TenantID  string
	SessionID uuid.UUID
	UserID    string
	State     domain.StateData
	Config    map[string]any
}

// Adapter executes one business action. Adapters may return errors freely;
// the node executor turns them into an apology and the "error" handle.
type Adapter interface {
	Execute(ctx context.Context, req Request) (*Output, error)
}

// AdapterFunc lets a plain function serve as an Adapter
type AdapterFunc func(ctx context.Context, req Request) (*Output, error)

// Execute calls f
func (f AdapterFunc) Execute(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}

// Registry maps action node kinds to adapters
type Registry struct {
	adapters map[domain.NodeKind]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.NodeKind]Adapter)}
}

// Register binds an adapter to a node kind
func (r *Registry) Register(kind domain.NodeKind, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = adapter
}

// Get returns the adapter for kind
func (r *Registry) Get(kind domain.NodeKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for %s", kind)
	}
	return adapter, nil
}

// Kinds lists registered kinds in sorted order
func (r *Registry) Kinds() []domain.NodeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.NodeKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewDefaultRegistry registers the built-in adapters. leads may be nil.
func NewDefaultRegistry(scheduling domain.SchedulingRepository, leads domain.LeadRepository, opts ...Option) *Registry {
	o := newOptions(opts...)
	r := NewRegistry()
	if scheduling != nil {
		r.Register(domain.KindCheckAvailability, NewAvailabilityAdapter(scheduling, o))
		r.Register(domain.KindBookAppointment, NewBookingAdapter(scheduling, o))
	}
	r.Register(domain.KindQualifyLead, NewLeadQualifier(leads, o))
	return r
}
