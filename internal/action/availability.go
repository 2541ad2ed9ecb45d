package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
)

// State keys written by the scheduling adapters
const (
	KeyAvailableSlots   = "available_slots"
	KeyAvailabilityDate = "availability_date"
	KeyAppointmentID    = "appointment_id"
	KeyAppointmentAt    = "appointment_at"
)

// AvailabilityAdapter lists free slots on the requested day
type AvailabilityAdapter struct {
	repo domain.SchedulingRepository
	opts Options
}

// NewAvailabilityAdapter creates the check_availability adapter
func NewAvailabilityAdapter(repo domain.SchedulingRepository, opts Options) *AvailabilityAdapter {
	return &AvailabilityAdapter{repo: repo, opts: opts}
}

// Execute resolves the requested day and writes the free slots into state.
//
// Config: date_variable (default "appointment_date"), duration_minutes,
// max_slots, available_message, unavailable_message.
func (a *AvailabilityAdapter) Execute(ctx context.Context, req Request) (*Output, error) {
	dateVar := cfgString(req.Config, "date_variable", "appointment_date")
	raw, ok := req.State.String(dateVar)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingVariable, dateVar)
	}

	now := a.opts.Now().In(a.opts.Location)
	day, err := ParseDay(raw, now)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(cfgInt(req.Config, "duration_minutes", defaultSlotMinutes)) * time.Minute
	maxSlots := cfgInt(req.Config, "max_slots", defaultMaxSlots)

	slots, err := a.freeSlots(ctx, req.TenantID, day, now, duration)
	if err != nil {
		return nil, err
	}
	if len(slots) > maxSlots {
		slots = slots[:maxSlots]
	}

	state := req.State.Clone()
	labels := make([]any, len(slots))
	for i, s := range slots {
		labels[i] = s.Format("15:04")
	}
	state[KeyAvailableSlots] = labels
	state[KeyAvailabilityDate] = day.Format("2006-01-02")

	if len(slots) == 0 {
		msg := cfgString(req.Config, "unavailable_message",
			fmt.Sprintf("Sorry, there are no available times on %s. Would you like to try another day?", formatDay(day)))
		return &Output{NextHandle: domain.HandleNo, Message: msg, Context: state}, nil
	}

	msg := cfgString(req.Config, "available_message",
		fmt.Sprintf("Available times on %s: %s", formatDay(day), joinSlots(labels)))
	return &Output{NextHandle: domain.HandleYes, Message: msg, Context: state}, nil
}

func (a *AvailabilityAdapter) freeSlots(ctx context.Context, tenantID string, day, now time.Time, duration time.Duration) ([]time.Time, error) {
	hours, err := a.repo.GetBusinessHours(ctx, tenantID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("failed to load business hours: %w", err)
	}
	if hours == nil || hours.Closed {
		return nil, nil
	}
	open, closing, err := hours.Window(day, a.opts.Location)
	if err != nil {
		return nil, err
	}
	booked, err := a.repo.ListAppointments(ctx, tenantID, open, closing)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return FreeSlots(open, closing, duration, booked, now), nil
}

// FreeSlots walks [open, closing) in duration steps and keeps the slots that
// start after notBefore and overlap no booked appointment.
func FreeSlots(open, closing time.Time, duration time.Duration, booked []domain.Appointment, notBefore time.Time) []time.Time {
	if duration <= 0 {
		return nil
	}
	var slots []time.Time
	for start := open; !start.Add(duration).After(closing); start = start.Add(duration) {
		if start.Before(notBefore) {
			continue
		}
		end := start.Add(duration)
		free := true
		for _, appt := range booked {
			if appt.Overlaps(start, end) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, start)
		}
	}
	return slots
}

// ParseDay understands ISO dates, relative words and weekday names
func ParseDay(raw string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch s {
	case "today", "hoy", "hoje":
		return today, nil
	case "tomorrow", "mañana", "manana", "amanhã", "amanha":
		return today.AddDate(0, 0, 1), nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006", "2006/01/02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if s == strings.ToLower(wd.String()) {
			delta := (int(wd) - int(today.Weekday()) + 7) % 7
			return today.AddDate(0, 0, delta), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func formatDay(day time.Time) string {
	return day.Format("Monday, January 2")
}

func joinSlots(labels []any) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = domain.Stringify(l)
	}
	return strings.Join(parts, ", ")
}
