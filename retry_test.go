package wafer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStateBudgets(t *testing.T) {
	s := newRetryState(2, 1)
	assert.True(t, s.canRetry())
	assert.True(t, s.canRotate())

	s.useRetry()
	s.useRetry()
	assert.False(t, s.canRetry())

	s.useRotation()
	assert.False(t, s.canRotate())
}

func TestRetryStateInlineSolveCapIsIndependent(t *testing.T) {
	s := newRetryState(0, 0)
	assert.Equal(t, 3, s.maxInlineSolves)
}

func TestCalculateBackoffGrowsWithAttempt(t *testing.T) {
	// With jitter in play we can only assert monotonic lower bounds,
	// so compare against the un-jittered base term.
	d0 := calculateBackoff(0, 1.0, 30.0)
	d3 := calculateBackoff(3, 1.0, 30.0)
	assert.GreaterOrEqual(t, float64(d3), float64(8.0*time.Second))
	assert.GreaterOrEqual(t, float64(d0), float64(1.0*time.Second))
}

func TestCalculateBackoffRespectsMax(t *testing.T) {
	d := calculateBackoff(20, 1.0, 5.0)
	// base*2^20 would be enormous; capped at max plus at most 50% jitter.
	assert.LessOrEqual(t, d, time.Duration(7.5*float64(time.Second)))
}

func TestDefaultAndInlineSolveBackoffDiffer(t *testing.T) {
	// inlineSolveBackoff uses a smaller base/max (0.5s/10s against
	// 1s/30s), so its first attempt (at most 0.75s) stays well under
	// 15s and below the default backoff's first attempt (at least 1s).
	assert.LessOrEqual(t, inlineSolveBackoff(0), 15*time.Second)
	assert.Less(t, inlineSolveBackoff(0), defaultBackoff(0))
}
