// Package ratelimit implements fixed-window point buckets over a shared
// Redis backend with an in-process fallback.
//
// Each (scope, subject) key owns an allowance of N points per window; every
// permitted attempt consumes one point and the key's TTL rolls the window
// over. The shared backend is primary; operational failures fail open (the
// request is allowed, the event reported) and flip the limiter onto the local
// backend for a probation interval. Selection is an atomic read, never a
// check-then-use sequence. A genuine limit-exceeded from either backend
// always rejects, with retry-after derived from the backend's time-to-reset.
package ratelimit
