package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// GetUser looks up a user by id. A miss returns [ErrUserNotFound].
func (e *Engine) GetUser(ctx context.Context, userID string) (UserRecord, error) {
	if e == nil || e.store == nil {
		return UserRecord{}, ErrEngineNotReady
	}
	if userID == "" {
		return UserRecord{}, ErrValidation
	}

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return user, nil
}

// CreateAccount registers a new user and issues the first verification code.
// Duplicate email or display name surfaces as [ErrConflict]; the existing
// row is never overwritten. Password may be empty for identities
// authenticated by an external provider; such accounts carry no hash.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*CreateAccountResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email required", ErrValidation)
	}

	var passwordHash string
	if req.Password != "" {
		if e.hasher == nil {
			return nil, ErrEngineNotReady
		}
		hash, err := e.hasher.Hash(req.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		passwordHash = hash
	}

	user, err := e.store.CreateUser(ctx, CreateUserInput{
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: passwordHash,
	})
	if err != nil {
		if errors.Is(err, ErrStoreConflict) {
			e.emitAudit(ctx, auditEventAccountCreate, false, "", email, ErrConflict, nil)
			return nil, ErrConflict
		}
		e.emitAudit(ctx, auditEventAccountCreate, false, "", email, err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventAccountCreate, true, user.UserID, email, nil, nil)

	result := &CreateAccountResult{UserID: user.UserID}
	if _, err := e.IssueVerificationCode(ctx, user.UserID, email); err != nil {
		// The account exists; the caller resends through the normal path.
		e.warn("initial verification code issue failed", "error", err)
	} else {
		result.VerificationSent = true
	}
	return result, nil
}
