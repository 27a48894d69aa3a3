package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	breaker := NewBreaker(BreakerOptions{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		MaxCooldown:      8 * cooldown,
		Clock:            clock.Now,
	})
	return breaker, clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	breaker, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Allow())
		breaker.RecordFailure()
	}
	require.Equal(t, StateClosed, breaker.State())

	require.NoError(t, breaker.Allow())
	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())
	require.ErrorIs(t, breaker.Allow(), ErrOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	breaker, _ := newTestBreaker(3, time.Minute)

	breaker.RecordFailure()
	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()
	breaker.RecordFailure()
	require.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	breaker, clock := newTestBreaker(1, time.Minute)

	breaker.RecordFailure()
	require.ErrorIs(t, breaker.Allow(), ErrOpen)

	clock.Advance(time.Minute + time.Second)

	// First caller after the cooldown gets the trial slot.
	require.NoError(t, breaker.Allow())
	// Concurrent callers are rejected until the trial resolves.
	require.ErrorIs(t, breaker.Allow(), ErrOpen)

	breaker.RecordSuccess()
	require.Equal(t, StateClosed, breaker.State())
	require.NoError(t, breaker.Allow())
}

func TestBreakerReleaseReturnsTrialSlot(t *testing.T) {
	breaker, clock := newTestBreaker(1, time.Minute)

	breaker.RecordFailure()
	clock.Advance(time.Minute + time.Second)
	require.NoError(t, breaker.Allow())
	require.ErrorIs(t, breaker.Allow(), ErrOpen)

	// The trial ended without an outcome; the slot must be grantable again.
	breaker.Release()
	require.NoError(t, breaker.Allow())
	require.ErrorIs(t, breaker.Allow(), ErrOpen)

	breaker.RecordSuccess()
	require.Equal(t, StateClosed, breaker.State())
}

func TestBreakerReopensWithDoubledCooldown(t *testing.T) {
	breaker, clock := newTestBreaker(1, time.Minute)

	breaker.RecordFailure()
	clock.Advance(time.Minute + time.Second)
	require.NoError(t, breaker.Allow())
	breaker.RecordFailure()

	// Cooldown doubled: one minute in is still open.
	clock.Advance(time.Minute + time.Second)
	require.ErrorIs(t, breaker.Allow(), ErrOpen)

	clock.Advance(time.Minute)
	require.NoError(t, breaker.Allow())
	breaker.RecordSuccess()
	require.Equal(t, StateClosed, breaker.State())
}

func TestBreakerCooldownIsCapped(t *testing.T) {
	cooldown := time.Minute
	breaker, clock := newTestBreaker(1, cooldown)

	// Fail the trial repeatedly; cooldown doubles but never exceeds the cap.
	breaker.RecordFailure()
	for i := 0; i < 6; i++ {
		clock.Advance(9 * cooldown)
		require.NoError(t, breaker.Allow())
		breaker.RecordFailure()
	}

	// MaxCooldown is 8x, so advancing past that must admit a trial.
	clock.Advance(8*cooldown + time.Second)
	require.NoError(t, breaker.Allow())
}

func TestBreakerTripOpensImmediately(t *testing.T) {
	breaker, _ := newTestBreaker(5, time.Minute)

	require.NoError(t, breaker.Allow())
	breaker.Trip()
	require.Equal(t, StateOpen, breaker.State())
	require.ErrorIs(t, breaker.Allow(), ErrOpen)
}

func TestRegistrySharesBreakerPerCapability(t *testing.T) {
	registry := NewRegistry(BreakerOptions{FailureThreshold: 1, Cooldown: time.Minute})

	video := registry.For("video")
	require.Same(t, video, registry.For("video"))
	require.NotSame(t, video, registry.For("tts"))

	video.Trip()
	require.ErrorIs(t, registry.For("video").Allow(), ErrOpen)
	require.NoError(t, registry.For("tts").Allow())
}
