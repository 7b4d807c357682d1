package authcore

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before the
	// engine was built with the dependencies that method requires.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrValidation is returned for malformed input. It never carries side
	// effects and is always locally recoverable by the caller.
	ErrValidation = errors.New("invalid input")
	// ErrUserNotFound is returned when a user lookup by id or email misses.
	ErrUserNotFound = errors.New("user not found")
	// ErrConflict is returned when a create collides with an existing unique
	// email or display name. The existing row is never overwritten.
	ErrConflict = errors.New("duplicate identifier")
	// ErrAccessTokenInvalid is returned by VerifyAccess for tokens whose
	// signature or shape does not check out.
	ErrAccessTokenInvalid = errors.New("invalid access token")
	// ErrAccessTokenExpired is returned by VerifyAccess for well-signed tokens
	// past their expiry.
	ErrAccessTokenExpired = errors.New("access token expired")
	// ErrSessionInvalid covers a session token that is absent, expired, or
	// already rotated. The three cases are deliberately indistinguishable.
	ErrSessionInvalid = errors.New("invalid session token")
	// ErrSessionReuse is surfaced when reuse detection is enabled and a
	// just-rotated session token is presented again.
	ErrSessionReuse = errors.New("session token reuse detected")
	// ErrCodeInvalid covers a verification code that is absent, expired, or
	// already consumed. Absent vs expired is never leaked to the caller.
	ErrCodeInvalid = errors.New("invalid verification code")
	// ErrVerificationRateLimited is returned when too many codes were issued
	// for the same email inside the trailing window.
	ErrVerificationRateLimited = errors.New("verification rate limited")
	// ErrResetInvalid covers a password reset token that is absent, expired,
	// or already consumed.
	ErrResetInvalid = errors.New("invalid reset token")
	// ErrRateLimited is returned when a point bucket for (scope, subject) is
	// exhausted. Retry-after guidance travels in RateLimitResult.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps operational credential-store failures. It is
	// fatal to the operation and surfaced as a generic server error.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrLimiterUnavailable wraps operational rate-limit backend failures.
	// The limiter recovers locally (fail-open plus fallback); the sentinel
	// exists for reporting, not for caller branching.
	ErrLimiterUnavailable = errors.New("rate limit backend unavailable")
)
