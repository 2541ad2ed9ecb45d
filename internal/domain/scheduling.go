package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BusinessHours is the opening window of a tenant on one weekday
type BusinessHours struct {
	TenantID string       `json:"tenant_id"`
	Weekday  time.Weekday `json:"weekday"`
	OpensAt  string       `json:"opens_at"`  // "HH:MM"
	ClosesAt string       `json:"closes_at"` // "HH:MM"
	Closed   bool         `json:"closed"`
}

// Window returns the opening interval on the given day in loc
func (h BusinessHours) Window(day time.Time, loc *time.Location) (time.Time, time.Time, error) {
	open, err := ClockOn(day, h.OpensAt, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid opening time: %w", err)
	}
	closing, err := ClockOn(day, h.ClosesAt, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid closing time: %w", err)
	}
	return open, closing, nil
}

// ClockOn combines the calendar day of day with an "HH:MM" clock in loc
func ClockOn(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}

// AppointmentStatus is the booking state of an appointment
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked slot
type Appointment struct {
	ID            uuid.UUID         `json:"id"`
	TenantID      string            `json:"tenant_id"`
	SessionID     *uuid.UUID        `json:"session_id,omitempty"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	Service       string            `json:"service,omitempty"`
	StartsAt      time.Time         `json:"starts_at"`
	EndsAt        time.Time         `json:"ends_at"`
	Status        AppointmentStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Overlaps reports whether the appointment intersects [start, end)
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.Status != AppointmentCancelled && a.StartsAt.Before(end) && start.Before(a.EndsAt)
}

// Lead is a qualified or rejected prospect captured by a flow
type Lead struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      string         `json:"tenant_id"`
	SessionID     uuid.UUID      `json:"session_id"`
	UserChannelID string         `json:"user_channel_id"`
	Score         float64        `json:"score"`
	Qualified     bool           `json:"qualified"`
	Answers       map[string]any `json:"answers,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SchedulingRepository is the appointment and business-hours backend used by actions
type SchedulingRepository interface {
	// GetBusinessHours returns nil hours when the weekday is not configured
	GetBusinessHours(ctx context.Context, tenantID string, weekday time.Weekday) (*BusinessHours, error)
	ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error)
	CreateAppointment(ctx context.Context, appointment *Appointment) error
}

// LeadRepository records qualification outcomes
type LeadRepository interface {
	UpsertLead(ctx context.Context, lead *Lead) error
}

// GraphSource returns the published graph for a tenant or ErrNoActiveFlow
type GraphSource interface {
	ActiveGraph(ctx context.Context, tenantID string) (*ActiveGraph, error)
}
