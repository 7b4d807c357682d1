package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend counts in a shared Redis so all engine instances draw from
// the same buckets.
type RedisBackend struct {
	redis redis.UniversalClient
}

// NewRedisBackend wraps the given client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{redis: client}
}

// Take increments the key and applies the window TTL on the first hit of the
// window. INCR is atomic on the server, so concurrent takes never lose
// counts.
func (b *RedisBackend) Take(ctx context.Context, key string, points int, window time.Duration) (Decision, error) {
	count, err := b.redis.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := b.redis.Expire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if count > int64(points) {
		ttl, err := b.redis.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			// Counter exists but TTL is unreadable or unset. Report the full
			// window rather than letting an unbounded key reject forever.
			ttl = window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true, Remaining: points - int(count)}, nil
}
