package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sableio/authcore/internal"
	"github.com/sableio/authcore/jwt"
)

// IssueSession mints a token pair for userID: a stateless signed access
// token and an opaque session token persisted (hashed) with the configured
// lifetime. Multiple concurrent sessions per user are allowed; issuing never
// touches existing rows.
func (e *Engine) IssueSession(ctx context.Context, userID string) (*SessionPair, error) {
	if e == nil || e.store == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrValidation
	}

	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session token generation: %w", err)
	}

	now := e.now()
	rec := SessionTokenRecord{
		TokenHash: internal.HashToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(e.config.Session.Lifetime),
		CreatedAt: now,
	}
	if err := e.store.InsertSessionToken(ctx, rec); err != nil {
		e.emitAudit(ctx, auditEventSessionIssue, false, userID, "", err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(userID)
	if err != nil {
		// The orphan row expires on its own; do not leave a half-issued pair.
		_ = e.store.DeleteSessionToken(ctx, rec.TokenHash)
		e.emitAudit(ctx, auditEventSessionIssue, false, userID, "", err, nil)
		return nil, fmt.Errorf("access token signing: %w", err)
	}

	e.emitAudit(ctx, auditEventSessionIssue, true, userID, "", nil, nil)
	return &SessionPair{
		UserID:       userID,
		AccessToken:  access,
		SessionToken: token,
	}, nil
}

// VerifyAccess statelessly checks an access token and returns the claimed
// user id. No store access: validity is signature plus expiry.
func (e *Engine) VerifyAccess(accessToken string) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	if accessToken == "" {
		return "", ErrValidation
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrAccessTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrAccessTokenInvalid, err)
	}
	return claims.UID, nil
}

// RotateSession consumes oldToken and returns a fresh pair for the same
// user. The store swap is transactional: no observable state has both tokens
// valid, or neither. Under concurrent duplicate calls exactly one wins; the
// loser gets [ErrSessionInvalid]. With reuse detection enabled, presenting a
// token that was already rotated revokes every session of the affected user
// and returns [ErrSessionReuse].
func (e *Engine) RotateSession(ctx context.Context, oldToken string) (*SessionPair, error) {
	if e == nil || e.store == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if oldToken == "" {
		return nil, ErrValidation
	}

	oldHash := internal.HashToken(oldToken)

	newToken, err := internal.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("session token generation: %w", err)
	}

	now := e.now()
	next := SessionTokenRecord{
		TokenHash: internal.HashToken(newToken),
		UserID:    "", // filled by the store from the rotated row
		ExpiresAt: now.Add(e.config.Session.Lifetime),
		CreatedAt: now,
	}

	rotated, err := e.store.RotateSessionToken(ctx, oldHash, next)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			if reuseErr := e.handleRotationMiss(ctx, oldHash); reuseErr != nil {
				return nil, reuseErr
			}
			e.emitAudit(ctx, auditEventSessionRotate, false, "", "", ErrSessionInvalid, nil)
			return nil, ErrSessionInvalid
		}
		e.emitAudit(ctx, auditEventSessionRotate, false, "", "", err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.config.Session.DetectReuse {
		if err := e.markRotated(ctx, oldHash, rotated.UserID); err != nil {
			// Marker loss weakens theft detection but must not fail the
			// rotation the client already committed to.
			e.warn("session reuse marker write failed", "error", err)
		}
	}

	access, err := e.jwtManager.CreateAccess(rotated.UserID)
	if err != nil {
		e.emitAudit(ctx, auditEventSessionRotate, false, rotated.UserID, "", err, nil)
		return nil, fmt.Errorf("access token signing: %w", err)
	}

	e.emitAudit(ctx, auditEventSessionRotate, true, rotated.UserID, "", nil, nil)
	return &SessionPair{
		UserID:       rotated.UserID,
		AccessToken:  access,
		SessionToken: newToken,
	}, nil
}

// RevokeSession deletes the session row for token. Idempotent: revoking an
// absent or expired token is a success.
func (e *Engine) RevokeSession(ctx context.Context, token string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrValidation
	}

	if err := e.store.DeleteSessionToken(ctx, internal.HashToken(token)); err != nil {
		e.emitAudit(ctx, auditEventSessionRevoke, false, "", "", err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventSessionRevoke, true, "", "", nil, nil)
	return nil
}

// RevokeAllSessions deletes every session row for userID and returns how
// many were removed. Used by account-level security actions.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrValidation
	}

	n, err := e.store.DeleteSessionTokensByUser(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventSessionRevokeAll, false, userID, "", err, nil)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emitAudit(ctx, auditEventSessionRevokeAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprintf("%d", n)}
	})
	return n, nil
}

// markRotated records a replay marker for a consumed token hash. TTL equals
// the session lifetime: past that, the old token would have failed on expiry
// anyway.
func (e *Engine) markRotated(ctx context.Context, oldHash, userID string) error {
	if e.redis == nil {
		return nil
	}
	key := e.config.Session.ReuseMarkerPrefix + ":" + oldHash
	return e.redis.Set(ctx, key, userID, e.config.Session.Lifetime).Err()
}

// handleRotationMiss decides whether a failed rotation is a theft signal.
// Returns ErrSessionReuse after revoking the user's sessions when the missed
// hash carries a replay marker; returns nil for an ordinary stale token.
func (e *Engine) handleRotationMiss(ctx context.Context, oldHash string) error {
	if !e.config.Session.DetectReuse || e.redis == nil {
		return nil
	}

	key := e.config.Session.ReuseMarkerPrefix + ":" + oldHash
	userID, err := e.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		// Marker store down: treat as an ordinary miss rather than blocking
		// rotation recovery on limiter infrastructure.
		e.warn("session reuse marker read failed", "error", err)
		return nil
	}

	revoked, revokeErr := e.store.DeleteSessionTokensByUser(ctx, userID)
	e.emitAudit(ctx, auditEventSessionReuse, false, userID, "", ErrSessionReuse, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprintf("%d", revoked)}
	})
	if revokeErr != nil {
		e.warn("session revocation after reuse detection failed", "error", revokeErr)
	}
	return ErrSessionReuse
}
