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
)

// SchedulingRepository implements domain.SchedulingRepository and domain.LeadRepository
type SchedulingRepository struct {
	pool *pgxpool.Pool
}

// NewSchedulingRepository creates a new scheduling repository
func NewSchedulingRepository(pool *pgxpool.Pool) *SchedulingRepository {
	return &SchedulingRepository{pool: pool}
}

func (r *SchedulingRepository) GetBusinessHours(ctx context.Context, tenantID string, weekday time.Weekday) (*domain.BusinessHours, error) {
	query := `
		SELECT opens_at, closes_at, closed
		FROM business_hours
		WHERE tenant_id = $1 AND weekday = $2
	`
	h := domain.BusinessHours{TenantID: tenantID, Weekday: weekday}
	if err := r.pool.QueryRow(ctx, query, tenantID, int16(weekday)).Scan(&h.OpensAt, &h.ClosesAt, &h.Closed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business hours: %w", err)
	}
	return &h, nil
}

func (r *SchedulingRepository) ListAppointments(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Appointment, error) {
	query := `
		SELECT id, tenant_id, session_id, customer_name, COALESCE(customer_phone, ''), COALESCE(service, ''),
		       starts_at, ends_at, status, created_at
		FROM appointments
		WHERE tenant_id = $1 AND status = 'scheduled' AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at
	`
	rows, err := r.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []domain.Appointment
	for rows.Next() {
		var (
			a      domain.Appointment
			status string
		)
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.SessionID,
			&a.CustomerName,
			&a.CustomerPhone,
			&a.Service,
			&a.StartsAt,
			&a.EndsAt,
			&status,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		a.Status = domain.AppointmentStatus(status)
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

// CreateAppointment inserts a booking. The exclusion constraint rejects overlaps
// that race past the adapter's availability check.
func (r *SchedulingRepository) CreateAppointment(ctx context.Context, appointment *domain.Appointment) error {
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	if appointment.Status == "" {
		appointment.Status = domain.AppointmentScheduled
	}
	query := `
		INSERT INTO appointments
			(id, tenant_id, session_id, customer_name, customer_phone, service, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		appointment.ID,
		appointment.TenantID,
		appointment.SessionID,
		appointment.CustomerName,
		appointment.CustomerPhone,
		appointment.Service,
		appointment.StartsAt,
		appointment.EndsAt,
		string(appointment.Status),
	).Scan(&appointment.CreatedAt)
	if err != nil {
		if pgCode(err) == codeExclusionViolation {
			return domain.ErrSlotUnavailable
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

// UpsertLead records the latest qualification of a session
func (r *SchedulingRepository) UpsertLead(ctx context.Context, lead *domain.Lead) error {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	answers, err := json.Marshal(lead.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}
	query := `
		INSERT INTO leads (id, tenant_id, session_id, user_channel_id, score, qualified, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, session_id) DO UPDATE
		SET score = EXCLUDED.score, qualified = EXCLUDED.qualified, answers = EXCLUDED.answers
		RETURNING id, created_at
	`
	if err := r.pool.QueryRow(ctx, query,
		lead.ID,
		lead.TenantID,
		lead.SessionID,
		lead.UserChannelID,
		lead.Score,
		lead.Qualified,
		answers,
	).Scan(&lead.ID, &lead.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}
	return nil
}
