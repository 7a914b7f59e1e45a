package suppression

import (
	"context"
	"time"
)

// ThresholdPolicy escalates once an address has soft bounced Limit times
// inside Period.
type ThresholdPolicy struct {
	Limit  int
	Period time.Duration
}

// NewThresholdPolicy returns nil when limit is not positive so callers can
// pass the result straight to WithEscalationPolicy only when it is set.
func NewThresholdPolicy(limit int, period time.Duration) *ThresholdPolicy {
	if limit <= 0 {
		return nil
	}
	return &ThresholdPolicy{Limit: limit, Period: period}
}

func (p *ThresholdPolicy) Window() time.Duration { return p.Period }

func (p *ThresholdPolicy) ShouldEscalate(_ context.Context, _ string, softBounces int) bool {
	return softBounces >= p.Limit
}
