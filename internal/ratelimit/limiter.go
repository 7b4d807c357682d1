package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Scope names one configured bucket family.
type Scope string

// BucketConfig is the allowance for one scope.
type BucketConfig struct {
	Points int
	Window time.Duration
}

// Config tunes the limiter.
type Config struct {
	Buckets map[Scope]BucketConfig
	// BackendTimeout bounds each shared-backend call.
	BackendTimeout time.Duration
	// FallbackProbation is how long the local backend serves after a shared
	// backend failure before the shared one is retried.
	FallbackProbation time.Duration
	KeyPrefix         string
}

// Result is the limiter's answer for one attempt.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Degraded reports that the local fallback made the decision, or that the
	// attempt was failed open because the shared backend errored.
	Degraded bool
}

// Reporter receives operational events: fail-open occurrences and fallback
// transitions. Implementations must be cheap and non-blocking.
type Reporter func(scope Scope, subject string, err error)

// Limiter routes takes to the shared backend, failing open and switching to
// the local fallback on operational errors. Backend selection is a single
// atomic load of the probation deadline, so concurrent requests never race a
// multi-step health check.
type Limiter struct {
	config   Config
	shared   Backend
	local    Backend
	reporter Reporter
	now      func() time.Time

	// fallbackUntil holds a unix-nano deadline; while now < deadline every
	// take is served locally.
	fallbackUntil atomic.Int64
}

// New builds a Limiter. shared may be nil, in which case the local backend
// serves everything (single-instance deployments).
func New(cfg Config, shared, local Backend, reporter Reporter) *Limiter {
	if local == nil {
		local = NewLocalBackend()
	}
	return &Limiter{
		config:   cfg,
		shared:   shared,
		local:    local,
		reporter: reporter,
		now:      time.Now,
	}
}

// Take consumes one point for (scope, subject). The error return is reserved
// for unknown scopes; backend trouble is absorbed by fail-open and reported
// through the Reporter.
func (l *Limiter) Take(ctx context.Context, scope Scope, subject string) (Result, error) {
	bucket, ok := l.config.Buckets[scope]
	if !ok {
		return Result{}, errUnknownScope(scope)
	}

	key := l.key(scope, subject)

	if l.shared == nil || l.degraded() {
		return l.takeLocal(ctx, key, bucket)
	}

	callCtx := ctx
	if l.config.BackendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.config.BackendTimeout)
		defer cancel()
	}

	decision, err := l.shared.Take(callCtx, key, bucket.Points, bucket.Window)
	if err != nil {
		// Fail open: the backend being down already signals elevated
		// operational risk; rejecting all traffic on top of it is worse.
		l.enterFallback()
		if l.reporter != nil {
			l.reporter(scope, subject, err)
		}
		return Result{Allowed: true, Remaining: bucket.Points, Degraded: true}, nil
	}

	return Result{
		Allowed:    decision.Allowed,
		Remaining:  decision.Remaining,
		RetryAfter: decision.RetryAfter,
	}, nil
}

func (l *Limiter) takeLocal(ctx context.Context, key string, bucket BucketConfig) (Result, error) {
	decision, err := l.local.Take(ctx, key, bucket.Points, bucket.Window)
	if err != nil {
		// The local backend cannot realistically fail, but stay fail-open if
		// it ever does.
		return Result{Allowed: true, Remaining: bucket.Points, Degraded: true}, nil
	}
	return Result{
		Allowed:    decision.Allowed,
		Remaining:  decision.Remaining,
		RetryAfter: decision.RetryAfter,
		Degraded:   l.shared != nil,
	}, nil
}

func (l *Limiter) degraded() bool {
	deadline := l.fallbackUntil.Load()
	return deadline != 0 && l.now().UnixNano() < deadline
}

func (l *Limiter) enterFallback() {
	if l.config.FallbackProbation <= 0 {
		return
	}
	l.fallbackUntil.Store(l.now().Add(l.config.FallbackProbation).UnixNano())
}

func (l *Limiter) key(scope Scope, subject string) string {
	prefix := l.config.KeyPrefix
	if prefix == "" {
		prefix = "rl"
	}
	return prefix + ":" + string(scope) + ":" + subject
}

type errUnknownScope Scope

func (e errUnknownScope) Error() string {
	return "unknown rate limit scope: " + string(e)
}
