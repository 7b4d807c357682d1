package authcore

import (
	"context"
	"fmt"

	"github.com/sableio/authcore/internal/ratelimit"
)

// CheckRateLimit consumes one point from the (scope, subject) bucket and
// reports the decision. Subject is the caller IP for both configured scopes.
// An exhausted bucket returns Allowed=false with RetryAfter set, never an
// error; operational backend failures fail open and mark the result
// Degraded.
func (e *Engine) CheckRateLimit(ctx context.Context, scope RateLimitScope, subject string) (RateLimitResult, error) {
	if e == nil || e.limiter == nil {
		return RateLimitResult{}, ErrEngineNotReady
	}
	if subject == "" {
		return RateLimitResult{}, ErrValidation
	}

	res, err := e.limiter.Take(ctx, ratelimit.Scope(scope), subject)
	if err != nil {
		return RateLimitResult{}, err
	}

	if !res.Allowed {
		e.emitAudit(ctx, auditEventRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
			return map[string]string{
				"scope":   string(scope),
				"subject": subject,
			}
		})
	}

	return RateLimitResult{
		Allowed:    res.Allowed,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
		Degraded:   res.Degraded,
	}, nil
}

// reportLimiterFailure is the ratelimit.Reporter hook: it records fail-open
// events without ever blocking the request path.
func (e *Engine) reportLimiterFailure(scope ratelimit.Scope, subject string, err error) {
	e.warn("rate limit backend failure, failing open",
		"scope", string(scope),
		"error", err,
	)
	e.emitAudit(context.Background(), auditEventLimiterDegraded, false, "", "",
		fmt.Errorf("%w: %v", ErrLimiterUnavailable, err), func() map[string]string {
		return map[string]string{
			"scope":   string(scope),
			"subject": subject,
		}
	})
}
