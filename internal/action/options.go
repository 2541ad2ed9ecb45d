package action

import (
	"time"

	"github.com/Rrens/flowbot/internal/domain"
)

const (
	defaultSlotMinutes = 30
	defaultMaxSlots    = 6
)

// Options tune the built-in adapters
type Options struct {
	Location *time.Location
	Now      func() time.Time
}

// Option configures Options
type Option func(*Options)

// WithLocation sets the timezone business hours are expressed in
func WithLocation(loc *time.Location) Option {
	return func(o *Options) {
		if loc != nil {
			o.Location = loc
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

func newOptions(opts ...Option) Options {
	o := Options{Location: time.UTC, Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func cfgString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func cfgInt(cfg map[string]any, key string, def int) int {
	if v, ok := domain.ToFloat(cfg[key]); ok && v > 0 {
		return int(v)
	}
	return def
}

func cfgFloat(cfg map[string]any, key string, def float64) float64 {
	if v, ok := domain.ToFloat(cfg[key]); ok {
		return v
	}
	return def
}
