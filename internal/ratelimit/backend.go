package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single point take.
type Decision struct {
	Allowed bool
	// Remaining points in the current window after this take.
	Remaining int
	// RetryAfter is the backend's reported time-to-reset; meaningful only
	// when Allowed is false.
	RetryAfter time.Duration
}

// Backend is one counter store. Take consumes a point for key within a
// fixed window of the given size; the counting must be atomic so concurrent
// takes for the same key never lose increments.
type Backend interface {
	Take(ctx context.Context, key string, points int, window time.Duration) (Decision, error)
}
