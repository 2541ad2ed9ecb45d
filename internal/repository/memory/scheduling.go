package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// Scheduling keeps business hours, appointments and leads in memory
type Scheduling struct {
	mu           sync.RWMutex
	hours        map[string]map[time.Weekday]domain.BusinessHours
	appointments map[string][]domain.Appointment
	leads        map[uuid.UUID]domain.Lead
}

// NewScheduling creates an empty scheduling backend
func NewScheduling() *Scheduling {
	return &Scheduling{
		hours:        make(map[string]map[time.Weekday]domain.BusinessHours),
		appointments: make(map[string][]domain.Appointment),
		leads:        make(map[uuid.UUID]domain.Lead),
	}
}

// SetBusinessHours stores the opening window of a weekday
func (s *Scheduling) SetBusinessHours(h domain.BusinessHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.hours[h.TenantID]
	if !ok {
		days = make(map[time.Weekday]domain.BusinessHours)
		s.hours[h.TenantID] = days
	}
	days[h.Weekday] = h
}

func (s *Scheduling) GetBusinessHours(ctx context.Context, tenantID string, weekday time.Weekday) (*domain.BusinessHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hours[tenantID][weekday]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *Scheduling) ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Appointment
	for _, a := range s.appointments[tenantID] {
		if a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Scheduling) CreateAppointment(ctx context.Context, appointment *domain.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments[appointment.TenantID] {
		if a.Overlaps(appointment.StartsAt, appointment.EndsAt) {
			return domain.ErrSlotUnavailable
		}
	}
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	appointment.CreatedAt = time.Now()
	s.appointments[appointment.TenantID] = append(s.appointments[appointment.TenantID], *appointment)
	return nil
}

func (s *Scheduling) UpsertLead(ctx context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.leads {
		if existing.TenantID == lead.TenantID && existing.SessionID == lead.SessionID {
			lead.ID = id
		}
	}
	lead.CreatedAt = time.Now()
	s.leads[lead.ID] = *lead
	return nil
}

// Leads returns the recorded leads of a tenant
func (s *Scheduling) Leads(tenantID string) []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lead
	for _, l := range s.leads {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out
}
