package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Base: time.Second, Max: 4 * time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	assert.Equal(t, DefaultBase, p.Delay(0))
	assert.Equal(t, DefaultMax, p.Delay(20))
}
