package ratelimit

import (
	"context"
	"sync"
	"time"
)

type localBucket struct {
	count   int
	resetAt time.Time
}

// LocalBackend is the in-process fallback. A mutex-guarded map is sufficient
// because the fallback is inherently single-instance; cross-instance
// fairness is the shared backend's job.
type LocalBackend struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

// NewLocalBackend returns an empty in-process counter set.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

// Take consumes a point under the mutex. Expired buckets are reset in place;
// stale keys beyond their window are dropped opportunistically to bound the
// map.
func (b *LocalBackend) Take(_ context.Context, key string, points int, window time.Duration) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket, ok := b.buckets[key]
	if !ok || !now.Before(bucket.resetAt) {
		if len(b.buckets) > 0 && !ok {
			b.evictExpiredLocked(now)
		}
		bucket = &localBucket{resetAt: now.Add(window)}
		b.buckets[key] = bucket
	}

	bucket.count++
	if bucket.count > points {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: bucket.resetAt.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: points - bucket.count}, nil
}

func (b *LocalBackend) evictExpiredLocked(now time.Time) {
	for k, v := range b.buckets {
		if !now.Before(v.resetAt) {
			delete(b.buckets, k)
		}
	}
}
