package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sableio/authcore/internal/ratelimit"
	"github.com/sableio/authcore/jwt"
)

// Engine is the credential and session lifecycle core. Construct one per
// process through [Builder.Build]; every method is safe for concurrent use
// afterwards.
//
// Engine instances are intended to be configured during initialization and
// then treated as immutable.
type Engine struct {
	config     Config
	store      CredentialStore
	notifier   Notifier
	hasher     Hasher
	jwtManager *jwt.Manager
	limiter    *ratelimit.Limiter
	redis      redis.UniversalClient
	audit      *auditDispatcher
	logger     *slog.Logger

	// now is swappable in tests; everything time-dependent goes through it.
	now func() time.Time
}

// Close flushes and stops the audit dispatcher. It does not close the Redis
// client or the credential store; both are owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID, email string,
	opErr error,
	metaFn func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if metaFn != nil {
		event.Metadata = metaFn()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) warn(msg string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Warn(msg, args...)
}
