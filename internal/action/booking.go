package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
)

// BookingAdapter books the requested slot when it is open and free
type BookingAdapter struct {
	repo domain.SchedulingRepository
	opts Options
}

// NewBookingAdapter creates the book_appointment adapter
func NewBookingAdapter(repo domain.SchedulingRepository, opts Options) *BookingAdapter {
	return &BookingAdapter{repo: repo, opts: opts}
}

// Execute creates the appointment.
//
// Config: date_variable, time_variable, name_variable, phone_variable,
// service_variable, duration_minutes, confirmation_message, conflict_message.
func (a *BookingAdapter) Execute(ctx context.Context, req Request) (*Output, error) {
	cfg := req.Config
	dateVar := cfgString(cfg, "date_variable", "appointment_date")
	timeVar := cfgString(cfg, "time_variable", "appointment_time")
	nameVar := cfgString(cfg, "name_variable", "name")

	rawDate, ok := req.State.String(dateVar)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingVariable, dateVar)
	}
	rawTime, ok := req.State.String(timeVar)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingVariable, timeVar)
	}
	name, ok := req.State.String(nameVar)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingVariable, nameVar)
	}
	phone, ok := req.State.String(cfgString(cfg, "phone_variable", "phone"))
	if !ok {
		phone = req.UserID
	}
	service, _ := req.State.String(cfgString(cfg, "service_variable", "service"))

	now := a.opts.Now().In(a.opts.Location)
	day, err := ParseDay(rawDate, now)
	if err != nil {
		return nil, err
	}
	clock, err := ParseClock(rawTime)
	if err != nil {
		return nil, err
	}
	start, err := domain.ClockOn(day, clock, a.opts.Location)
	if err != nil {
		return nil, err
	}
	end := start.Add(time.Duration(cfgInt(cfg, "duration_minutes", defaultSlotMinutes)) * time.Minute)

	state := req.State.Clone()
	conflict := func(msg string) *Output {
		return &Output{
			NextHandle: domain.HandleNo,
			Message:    cfgString(cfg, "conflict_message", msg),
			Context:    state,
		}
	}

	if start.Before(now) {
		return conflict("That time has already passed. Please choose another time."), nil
	}

	hours, err := a.repo.GetBusinessHours(ctx, req.TenantID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("failed to load business hours: %w", err)
	}
	if hours == nil || hours.Closed {
		return conflict(fmt.Sprintf("Sorry, we are closed on %s.", formatDay(day))), nil
	}
	open, closing, err := hours.Window(day, a.opts.Location)
	if err != nil {
		return nil, err
	}
	if start.Before(open) || end.After(closing) {
		return conflict(fmt.Sprintf("Sorry, %s is outside our opening hours (%s-%s).", clock, hours.OpensAt, hours.ClosesAt)), nil
	}

	booked, err := a.repo.ListAppointments(ctx, req.TenantID, open, closing)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	for _, appt := range booked {
		if appt.Overlaps(start, end) {
			return conflict("Sorry, that time is no longer available. Please choose another time."), nil
		}
	}

	appt := &domain.Appointment{
		ID:            uuid.New(),
		TenantID:      req.TenantID,
		CustomerName:  name,
		CustomerPhone: phone,
		Service:       service,
		StartsAt:      start,
		EndsAt:        end,
		Status:        domain.AppointmentScheduled,
	}
	if req.SessionID != uuid.Nil {
		sid := req.SessionID
		appt.SessionID = &sid
	}
	if err := a.repo.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			return conflict("Sorry, that time was just taken. Please choose another time."), nil
		}
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	state[KeyAppointmentID] = appt.ID.String()
	state[KeyAppointmentAt] = start.Format(time.RFC3339)
	state[timeVar] = clock

	msg := cfgString(cfg, "confirmation_message",
		fmt.Sprintf("Your appointment is booked for %s at %s. See you then, %s!", formatDay(day), clock, name))
	return &Output{NextHandle: domain.HandleNext, Message: msg, Context: state}, nil
}

// ParseClock normalizes "9", "9:30", "09:30", "9am", "9:30 pm" to "HH:MM"
func ParseClock(raw string) (string, error) {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	s = strings.ReplaceAll(s, ".", ":")
	s = strings.TrimSuffix(s, "h")
	for _, layout := range []string{"15:04", "3:04pm", "3pm", "15"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("unrecognized time %q", raw)
}
