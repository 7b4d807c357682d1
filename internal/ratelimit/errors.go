package ratelimit

import "errors"

var (
	// ErrBackendUnavailable wraps operational backend failures: connectivity,
	// timeout, protocol. Never returned for an exhausted bucket.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
