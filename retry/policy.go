// Package retry computes backoff delays for transient tool failures.
package retry

import (
	"math/rand"
	"time"
)

// JitterStrategy defines the jitter applied to computed delays.
type JitterStrategy string

const (
	JitterNone JitterStrategy = "NONE"
	JitterFull JitterStrategy = "FULL"
)

// Policy configures exponential backoff between attempts. The zero value is
// not usable; call DefaultPolicy or fill in every field.
type Policy struct {
	MaxAttempts int            `json:"max_attempts" toml:"max_attempts"`
	BaseDelay   time.Duration  `json:"base_delay" toml:"base_delay"`
	MaxDelay    time.Duration  `json:"max_delay" toml:"max_delay"`
	BackoffRate float64        `json:"backoff_rate" toml:"backoff_rate"`
	Jitter      JitterStrategy `json:"jitter" toml:"jitter"`
}

// DefaultPolicy returns the standard policy: up to 4 attempts, 1s base delay
// doubling per attempt, capped at 30s, with full jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		BackoffRate: 2.0,
		Jitter:      JitterFull,
	}
}

// Delay returns the wait before the given retry attempt. Attempt numbering
// starts at 0 for the first retry. The deterministic component is
// min(maxDelay, base * rate^attempt); full jitter adds a uniform random
// amount up to that value.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	rate := p.BackoffRate
	if rate < 1 {
		rate = 2.0
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= rate
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	d := time.Duration(delay)
	if p.Jitter == JitterFull && rng != nil {
		d += time.Duration(rng.Int63n(int64(d) + 1))
	}
	return d
}

// Exhausted reports whether the attempt count has used up the policy.
// attempts counts completed calls, so a policy with MaxAttempts=4 allows the
// initial call plus three retries.
func (p Policy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempts >= max
}
