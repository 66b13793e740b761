package wafer

import (
	"math"
	"math/rand"
	"time"
)

// retryState tracks per-request retry counters. Two independent
// budgets: normal retries (5xx, transient I/O, empty-body 200) and
// rotation retries (challenge, bare 403 or plain 429). Inline solves have their
// own cap, distinct from rotations.
type retryState struct {
	maxRetries   int
	maxRotations int

	normalRetries   int
	rotationRetries int
	inlineSolves    int
	maxInlineSolves int

	redirectsFollowed int
	browserAttempted  bool
}

func newRetryState(maxRetries, maxRotations int) *retryState {
	return &retryState{
		maxRetries:      maxRetries,
		maxRotations:    maxRotations,
		maxInlineSolves: 3,
	}
}

func (s *retryState) canRetry() bool  { return s.normalRetries < s.maxRetries }
func (s *retryState) canRotate() bool { return s.rotationRetries < s.maxRotations }

func (s *retryState) useRetry()    { s.normalRetries++ }
func (s *retryState) useRotation() { s.rotationRetries++ }

// calculateBackoff returns an exponential backoff with jitter:
// min(base*2^attempt, max) + uniform(0, 0.5*delay).
func calculateBackoff(attempt int, base, max float64) time.Duration {
	delay := base * math.Exp2(float64(attempt))
	if delay > max {
		delay = max
	}
	delay += rand.Float64() * delay * 0.5
	return time.Duration(delay * float64(time.Second))
}

func defaultBackoff(attempt int) time.Duration {
	return calculateBackoff(attempt, 1.0, 30.0)
}

func inlineSolveBackoff(attempt int) time.Duration {
	return calculateBackoff(attempt, 0.5, 10.0)
}
