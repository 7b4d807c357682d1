package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sableio/authcore/internal"
)

// RequestPasswordReset issues a single-use reset token for the account
// behind email and dispatches it asynchronously. The return shape is
// identical whether or not the email exists: unknown addresses burn the same
// enumeration delay and report success. Endpoint-level throttling is the
// shared rate limiter's job, not this method's.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if email == "" {
		return ErrValidation
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			if sleepErr := e.enumerationDelay(ctx); sleepErr != nil {
				return sleepErr
			}
			e.emitAudit(ctx, auditEventResetRequest, true, "", email, nil, func() map[string]string {
				return map[string]string{"enumeration_safe": "true"}
			})
			return nil
		}
		e.emitAudit(ctx, auditEventResetRequest, false, "", email, err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token, err := internal.NewResetToken()
	if err != nil {
		return fmt.Errorf("reset token generation: %w", err)
	}

	now := e.now()
	rec := ResetTokenRecord{
		TokenHash: internal.HashToken(token),
		UserID:    user.UserID,
		ExpiresAt: now.Add(e.config.PasswordReset.TokenTTL),
		CreatedAt: now,
	}
	if err := e.store.InsertResetToken(ctx, rec); err != nil {
		e.emitAudit(ctx, auditEventResetRequest, false, user.UserID, email, err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventResetRequest, true, user.UserID, email, nil, nil)
	e.dispatchResetToken(email, token)
	return nil
}

// ConsumePasswordReset redeems a reset token and installs the new password.
// The hash update and row delete happen in one store transaction; a
// concurrent duplicate call loses the conditional delete and fails with
// [ErrResetInvalid]. Absent and expired tokens are indistinguishable, and an
// expired row found on the way is opportunistically deleted by the store.
func (e *Engine) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if e.hasher == nil {
		return ErrEngineNotReady
	}
	if token == "" || newPassword == "" {
		return ErrValidation
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rec, err := e.store.ConsumeResetToken(ctx, internal.HashToken(token), newHash, e.now())
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.emitAudit(ctx, auditEventResetConsume, false, "", "", ErrResetInvalid, nil)
			return ErrResetInvalid
		}
		e.emitAudit(ctx, auditEventResetConsume, false, "", "", err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// A reset proves control of the mailbox; standing sessions may belong to
	// whoever forced the reset. Revoke them all.
	if _, revokeErr := e.store.DeleteSessionTokensByUser(ctx, rec.UserID); revokeErr != nil {
		e.warn("session revocation after password reset failed", "error", revokeErr)
	}

	e.emitAudit(ctx, auditEventResetConsume, true, rec.UserID, "", nil, nil)
	return nil
}

// enumerationDelay blocks long enough that a miss costs what a hit costs.
func (e *Engine) enumerationDelay(ctx context.Context) error {
	d := e.config.PasswordReset.EnumerationDelay
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) dispatchResetToken(email, token string) {
	if e.notifier == nil {
		e.warn("reset token issued without notifier", "email", email)
		return
	}

	go func() {
		if err := e.notifier.SendPasswordResetToken(context.Background(), email, token); err != nil {
			e.warn("reset token dispatch failed", "email", email, "error", err)
			e.emitAudit(context.Background(), auditEventNotifyFailure, false, "", email, err, func() map[string]string {
				return map[string]string{"kind": "password_reset"}
			})
		}
	}()
}
