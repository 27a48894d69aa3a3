// Package circuit provides a per-capability circuit breaker that fails fast
// against a persistently unhealthy external tool. Breaker state is held in
// memory only: after a process restart every circuit starts closed.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Allow while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

// BreakerOptions configures a breaker.
type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open after tripping. Each
	// reopen from half-open doubles the cooldown up to MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o BreakerOptions) withDefaults() BreakerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.MaxCooldown <= 0 {
		o.MaxCooldown = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Breaker is a circuit breaker for one capability.
type Breaker struct {
	opts BreakerOptions

	mutex         sync.Mutex
	state         State
	failures      int
	cooldown      time.Duration
	openUntil     time.Time
	trialInFlight bool
}

// NewBreaker returns a closed breaker with the given options.
func NewBreaker(opts BreakerOptions) *Breaker {
	opts = opts.withDefaults()
	return &Breaker{
		opts:     opts,
		state:    StateClosed,
		cooldown: opts.Cooldown,
	}
}

// Allow reports whether a call may proceed. While open it returns ErrOpen
// until the cooldown elapses; the first call after that becomes the single
// half-open trial and concurrent callers keep getting ErrOpen until the
// trial resolves.
func (b *Breaker) Allow() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.opts.Clock().Before(b.openUntil) {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure counter and
// cooldown.
func (b *Breaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.cooldown = b.opts.Cooldown
	b.trialInFlight = false
}

// RecordFailure counts a failed call. A failed half-open trial reopens the
// circuit with a doubled, capped cooldown; reaching the failure threshold
// while closed opens it.
func (b *Breaker) RecordFailure() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.cooldown = minDuration(2*b.cooldown, b.opts.MaxCooldown)
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.open()
		}
	case StateOpen:
		// Late failure from a call admitted before the trip; nothing to do.
	}
}

// Release frees the half-open trial slot without recording an outcome.
// Callers use it when an admitted call ends in neither success nor tool
// failure, such as a cancellation, so the next Allow can grant a new trial.
func (b *Breaker) Release() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.trialInFlight = false
}

// Trip opens the circuit immediately, regardless of the failure count. Used
// for permanent tool errors.
func (b *Breaker) Trip() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.open()
}

// State returns the breaker state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.state == StateOpen && !b.opts.Clock().Before(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openUntil = b.opts.Clock().Add(b.cooldown)
	b.trialInFlight = false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
