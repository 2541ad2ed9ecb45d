package action

import (
	"context"
	"fmt"

	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/expr"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State keys written by the lead qualifier
const (
	KeyLeadScore     = "lead_score"
	KeyLeadQualified = "lead_qualified"
)

const defaultLeadThreshold = 50

// Criterion awards points when its expression holds
type Criterion struct {
	Expression string
	Points     float64
}

// LeadQualifier scores the collected answers against weighted criteria
type LeadQualifier struct {
	leads domain.LeadRepository
	opts  Options
}

// NewLeadQualifier creates the qualify_lead adapter; leads may be nil
func NewLeadQualifier(leads domain.LeadRepository, opts Options) *LeadQualifier {
	return &LeadQualifier{leads: leads, opts: opts}
}

// Execute sums the points of every matching criterion.
//
// Config: criteria [{expression, points}], threshold, qualified_message,
// unqualified_message.
func (q *LeadQualifier) Execute(ctx context.Context, req Request) (*Output, error) {
	criteria := ParseCriteria(req.Config["criteria"])
	threshold := cfgFloat(req.Config, "threshold", defaultLeadThreshold)

	var score float64
	for _, c := range criteria {
		ok, err := expr.Evaluate(c.Expression, req.State)
		if err != nil {
			log.Warn().Err(err).Str("expression", c.Expression).Msg("Skipping invalid lead criterion")
			continue
		}
		if ok {
			score += c.Points
		}
	}
	qualified := score >= threshold

	state := req.State.Clone()
	state[KeyLeadScore] = score
	state[KeyLeadQualified] = qualified

	if q.leads != nil {
		lead := &domain.Lead{
			ID:            uuid.New(),
			TenantID:      req.TenantID,
			SessionID:     req.SessionID,
			UserChannelID: req.UserID,
			Score:         score,
			Qualified:     qualified,
			Answers:       map[string]any(req.State.Clone()),
		}
		if err := q.leads.UpsertLead(ctx, lead); err != nil {
			return nil, fmt.Errorf("failed to record lead: %w", err)
		}
	}

	if qualified {
		msg := cfgString(req.Config, "qualified_message", "Thanks! A member of our team will contact you shortly.")
		return &Output{NextHandle: domain.HandleYes, Message: msg, Context: state}, nil
	}
	msg := cfgString(req.Config, "unqualified_message", "Thanks for your answers!")
	return &Output{NextHandle: domain.HandleNo, Message: msg, Context: state}, nil
}

// ParseCriteria reads the authored criteria list, skipping malformed entries
func ParseCriteria(raw any) []Criterion {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Criterion, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		src := cfgString(m, "expression", cfgString(m, "condition", ""))
		if src == "" {
			continue
		}
		out = append(out, Criterion{Expression: src, Points: cfgFloat(m, "points", cfgFloat(m, "score", 0))})
	}
	return out
}
