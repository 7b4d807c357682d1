package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sableio/authcore/internal"
)

// IssueVerificationCode generates a fresh email-ownership code for the user,
// persists it, and dispatches it asynchronously through the notifier.
//
// The per-email issue budget is counted from code rows in the credential
// store, not the rate-limit backend: the count must survive limiter restarts
// and be keyed by email, not IP. Rows count attempts, not deliveries, so a
// failed dispatch still consumes budget (prevents delivery-retry
// amplification). The code is returned to the caller for test harnesses; the
// transport layer must never echo it to clients.
func (e *Engine) IssueVerificationCode(ctx context.Context, userID, email string) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	if userID == "" || email == "" {
		return "", ErrValidation
	}

	now := e.now()
	count, err := e.store.CountVerificationCodes(ctx, email, now.Add(-e.config.Verification.Window))
	if err != nil {
		e.emitAudit(ctx, auditEventVerificationIssue, false, userID, email, err, nil)
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count >= e.config.Verification.MaxPerWindow {
		e.emitAudit(ctx, auditEventVerificationIssue, false, userID, email, ErrVerificationRateLimited, func() map[string]string {
			return map[string]string{"issued_in_window": fmt.Sprintf("%d", count)}
		})
		return "", ErrVerificationRateLimited
	}

	code, err := internal.NewOTP(e.config.Verification.CodeDigits)
	if err != nil {
		return "", fmt.Errorf("verification code generation: %w", err)
	}

	rec := VerificationCodeRecord{
		UserID:    userID,
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(e.config.Verification.CodeTTL),
		CreatedAt: now,
	}
	if err := e.store.InsertVerificationCode(ctx, rec); err != nil {
		e.emitAudit(ctx, auditEventVerificationIssue, false, userID, email, err, nil)
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventVerificationIssue, true, userID, email, nil, nil)
	e.dispatchVerificationCode(email, code)
	return code, nil
}

// ConsumeVerificationCode redeems a code for email. On a valid match the
// store flips the user's verified flag and deletes the row in one
// transaction, so a concurrent duplicate call observes no row and fails with
// [ErrCodeInvalid]. Absent, expired, and already-consumed are deliberately
// indistinguishable.
func (e *Engine) ConsumeVerificationCode(ctx context.Context, email, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if email == "" {
		return ErrValidation
	}
	if !internal.IsOTPShape(code, e.config.Verification.CodeDigits) {
		// Malformed input never reaches the store.
		return fmt.Errorf("%w: code must be %d digits", ErrValidation, e.config.Verification.CodeDigits)
	}

	rec, err := e.store.ConsumeVerificationCode(ctx, email, code, e.now())
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			e.emitAudit(ctx, auditEventVerificationDone, false, "", email, ErrCodeInvalid, nil)
			return ErrCodeInvalid
		}
		e.emitAudit(ctx, auditEventVerificationDone, false, "", email, err, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventVerificationDone, true, rec.UserID, email, nil, nil)
	return nil
}

// dispatchVerificationCode sends the code after the row committed. Fire and
// forget: a delivery failure is reported, never rolled back.
func (e *Engine) dispatchVerificationCode(email, code string) {
	if e.notifier == nil {
		e.warn("verification code issued without notifier", "email", email)
		return
	}

	go func() {
		if err := e.notifier.SendVerificationCode(context.Background(), email, code); err != nil {
			e.warn("verification code dispatch failed", "email", email, "error", err)
			e.emitAudit(context.Background(), auditEventNotifyFailure, false, "", email, err, func() map[string]string {
				return map[string]string{"kind": "verification_code"}
			})
		}
	}()
}
