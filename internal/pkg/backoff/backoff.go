// Package backoff holds the exponential retry policy shared by the scheduler
// and the webhook dispatcher.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	DefaultBase = 1 * time.Minute
	DefaultMax  = 1 * time.Hour
)

// Policy computes Base * 2^attempt, capped at Max. With Jitter set the
// result is drawn uniformly from [0, delay] ("full jitter"), floored at
// 100ms so retries never busy-loop.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// Default returns the scheduler's default policy.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 0 {
		attempt = 0
	}

	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(max) {
		exp = float64(max)
	}
	if !p.Jitter {
		return time.Duration(exp)
	}

	jittered := time.Duration(rand.Float64() * exp)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}
