package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.OnFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, StateOpen, b.State())

	// Fail fast without a network attempt while open.
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	require.NoError(t, b.Allow())
	b.OnFailure()
	require.Equal(t, StateOpen, b.State())

	// Before the cooldown elapses nothing is admitted.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// After the cooldown exactly one trial call passes.
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second caller must not piggyback on the trial")

	b.OnSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	require.NoError(t, b.Allow())
	b.OnFailure()

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the trial failure.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	*now = now.Add(31 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	require.NoError(t, b.Allow())
	b.OnFailure()
	b.OnSuccess()
	require.NoError(t, b.Allow())
	b.OnFailure()
	assert.Equal(t, StateClosed, b.State(), "success in between must reset the consecutive count")
}
