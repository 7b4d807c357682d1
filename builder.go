package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sableio/authcore/internal/ratelimit"
	"github.com/sableio/authcore/jwt"
)

// Builder assembles an [Engine] from explicit dependencies. There are no
// package-level clients: every handle is injected here once at process start
// and torn down by the owner at shutdown.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    CredentialStore
	notifier Notifier
	hasher   Hasher

	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared backend for rate limiting and reuse markers.
// Optional: without it the limiter runs purely in-process and reuse
// detection is unavailable.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the credential store collaborator. Required.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the outbound-mail collaborator. Optional: without it,
// code and reset dispatches are skipped and reported.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithHasher sets the password-hashing black box consumed by the reset and
// account flows.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger for operational warnings (fail-open
// transitions, notification failures).
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, wires internals, and returns the
// engine. A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if cfg.Session.DetectReuse && b.redis == nil {
		return nil, errors.New("Session.DetectReuse requires redis client")
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		store:      b.store,
		notifier:   b.notifier,
		hasher:     b.hasher,
		jwtManager: jwtManager,
		redis:      b.redis,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		logger:     b.logger,
		now:        time.Now,
	}

	var shared ratelimit.Backend
	if b.redis != nil {
		shared = ratelimit.NewRedisBackend(b.redis)
	}
	engine.limiter = ratelimit.New(ratelimit.Config{
		Buckets: map[ratelimit.Scope]ratelimit.BucketConfig{
			ratelimit.Scope(ScopeAuth): {
				Points: cfg.RateLimit.Auth.Points,
				Window: cfg.RateLimit.Auth.Window,
			},
			ratelimit.Scope(ScopeGeneral): {
				Points: cfg.RateLimit.General.Points,
				Window: cfg.RateLimit.General.Window,
			},
		},
		BackendTimeout:    cfg.RateLimit.BackendTimeout,
		FallbackProbation: cfg.RateLimit.FallbackProbation,
		KeyPrefix:         cfg.RateLimit.KeyPrefix,
	}, shared, ratelimit.NewLocalBackend(), engine.reportLimiterFailure)

	b.built = true
	return engine, nil
}
