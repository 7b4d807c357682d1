package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Zero value is not usable;
// start from [DefaultConfig] and override what the deployment needs.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Verification  VerificationConfig
	PasswordReset PasswordResetConfig
	RateLimit     RateLimitConfig
	Reaper        ReaperConfig
	Audit         AuditConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the stateless access token. Validity is purely
// cryptographic plus expiry; access tokens are never persisted.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the opaque refresh credential and its rotation.
type SessionConfig struct {
	// Lifetime is the absolute expiry of a session token row.
	Lifetime time.Duration
	// DetectReuse enables replay markers for rotated tokens. Presenting a
	// just-rotated token then revokes every session of the affected user.
	// Off by default: reuse of a rotated token is indistinguishable from a
	// forged one, so this is a product decision, not a correctness one.
	DetectReuse bool
	// ReuseMarkerPrefix namespaces replay-marker keys in Redis.
	ReuseMarkerPrefix string
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig configures email-ownership codes.
type VerificationConfig struct {
	CodeTTL    time.Duration
	CodeDigits int
	// MaxPerWindow caps codes issued per email inside Window. The count is
	// kept in the credential store, not the rate-limit backend, so it
	// survives limiter restarts and is keyed by email rather than IP.
	MaxPerWindow int
	Window       time.Duration
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures single-use reset tokens.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	// EnumerationDelay is slept before answering a request for an unknown
	// email so the two outcomes stay timing-indistinguishable.
	EnumerationDelay time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitBucket is one fixed-window point allowance.
type RateLimitBucket struct {
	Points int
	Window time.Duration
}

// RateLimitConfig configures the shared limiter and its local fallback.
type RateLimitConfig struct {
	Auth    RateLimitBucket
	General RateLimitBucket
	// BackendTimeout bounds each call to the shared backend so the fail-open
	// path degrades instead of hanging the request pipeline. Must stay
	// sub-second.
	BackendTimeout time.Duration
	// FallbackProbation is how long the limiter routes to the in-process
	// backend after an operational failure before retrying the shared one.
	FallbackProbation time.Duration
	KeyPrefix         string
}

/*
====================================
REAPER CONFIG
====================================
*/

// ReaperConfig configures the ghost-account sweep.
type ReaperConfig struct {
	// RunAt is the daily wall-clock run time, "HH:MM", in UTC.
	RunAt string
	// UnverifiedGrace is how old an unverified account must be before a
	// sweep deletes it.
	UnverifiedGrace time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when the
	// buffer is saturated. Dropped counts are observable via
	// [Engine.AuditDropped].
	DropIfFull bool
}

// DefaultConfig returns the reference configuration: 15-minute access tokens,
// 7-day sessions, 6-digit codes (3 per hour, 5-minute expiry), 10-minute
// reset tokens, auth bucket 10 points per hour, general bucket 100 points per
// 15 minutes, daily reap at 03:00 UTC with a 3-day grace.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			Lifetime:          7 * 24 * time.Hour,
			ReuseMarkerPrefix: "acru",
		},
		Verification: VerificationConfig{
			CodeTTL:      5 * time.Minute,
			CodeDigits:   6,
			MaxPerWindow: 3,
			Window:       time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:         10 * time.Minute,
			EnumerationDelay: 120 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Auth:              RateLimitBucket{Points: 10, Window: time.Hour},
			General:           RateLimitBucket{Points: 100, Window: 15 * time.Minute},
			BackendTimeout:    500 * time.Millisecond,
			FallbackProbation: 30 * time.Second,
			KeyPrefix:         "acrl",
		},
		Reaper: ReaperConfig{
			RunAt:           "03:00",
			UnverifiedGrace: 3 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate reports the first configuration error, or nil.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("JWT.SigningMethod must be hs256 or ed25519")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT.Leeway must be within [0, 2m]")
	}
	if c.Session.Lifetime <= c.JWT.AccessTTL {
		return errors.New("Session.Lifetime must exceed JWT.AccessTTL")
	}
	if c.Verification.CodeDigits < 6 || c.Verification.CodeDigits > 10 {
		return errors.New("Verification.CodeDigits must be within [6, 10]")
	}
	if c.Verification.CodeTTL <= 0 || c.Verification.Window <= 0 {
		return errors.New("Verification TTL and Window must be positive")
	}
	if c.Verification.MaxPerWindow <= 0 {
		return errors.New("Verification.MaxPerWindow must be positive")
	}
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset.TokenTTL must be positive")
	}
	if c.RateLimit.Auth.Points <= 0 || c.RateLimit.General.Points <= 0 {
		return errors.New("RateLimit bucket points must be positive")
	}
	if c.RateLimit.Auth.Window <= 0 || c.RateLimit.General.Window <= 0 {
		return errors.New("RateLimit bucket windows must be positive")
	}
	if c.RateLimit.BackendTimeout <= 0 || c.RateLimit.BackendTimeout >= time.Second {
		return errors.New("RateLimit.BackendTimeout must be sub-second and positive")
	}
	if c.RateLimit.FallbackProbation <= 0 {
		return errors.New("RateLimit.FallbackProbation must be positive")
	}
	if _, err := parseRunAt(c.Reaper.RunAt); err != nil {
		return err
	}
	if c.Reaper.UnverifiedGrace <= 0 {
		return errors.New("Reaper.UnverifiedGrace must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be positive when audit is enabled")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.PrivateKey = append([]byte(nil), c.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), c.JWT.PublicKey...)
	return out
}
