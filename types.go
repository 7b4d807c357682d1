package authcore

import (
	"context"
	"errors"
	"time"
)

// Store sentinels. CredentialStore implementations return these so the engine
// can map persistence outcomes without knowing the backing schema. Any other
// error from a store method is treated as operational and wrapped into
// [ErrStoreUnavailable].
var (
	// ErrStoreNotFound is the normal-result miss: the row is absent or, for
	// token-like rows, already consumed. Not an exceptional path.
	ErrStoreNotFound = errors.New("store: not found")
	// ErrStoreConflict reports a unique-constraint collision on email or
	// display name.
	ErrStoreConflict = errors.New("store: conflict")
)

// UserRecord is the identity record owned by the credential store. Password
// hash is empty for externally-authenticated identities.
type UserRecord struct {
	UserID        string
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
}

// CreateUserInput is the input for [CredentialStore.CreateUser].
type CreateUserInput struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// SessionTokenRecord is one still-valid session lineage. The opaque token is
// held by the client; only its SHA-256 hash is persisted.
type SessionTokenRecord struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerificationCodeRecord is a pending 6-digit email-ownership proof. Email is
// denormalized so rate-limit aggregation survives user-id changes.
type VerificationCodeRecord struct {
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ResetTokenRecord is a pending single-use password reset grant.
type ResetTokenRecord struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CredentialStore is the persistence contract the engine consumes. It is the
// collaborator boundary: implementations own schema, transactions, and
// cascading deletes (deleting a user must cascade to its token rows).
//
// Linearizability requirements: RotateSessionToken, ConsumeVerificationCode,
// and ConsumeResetToken must be atomic per key using the store's native
// transaction or conditional-write primitive, because multiple engine
// instances may run concurrently. No application-level locking is layered on
// top.
type CredentialStore interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	DeleteUser(ctx context.Context, userID string) error

	InsertSessionToken(ctx context.Context, rec SessionTokenRecord) error
	// RotateSessionToken deletes the row for oldHash and inserts next in one
	// transaction, returning the rotated record. A miss (absent, expired, or
	// lost race) returns ErrStoreNotFound; an expired row is deleted before
	// the miss is reported. Exactly one of N concurrent calls with the same
	// oldHash succeeds.
	RotateSessionToken(ctx context.Context, oldHash string, next SessionTokenRecord) (SessionTokenRecord, error)
	// DeleteSessionToken is idempotent; deleting an absent row is not an error.
	DeleteSessionToken(ctx context.Context, tokenHash string) error
	DeleteSessionTokensByUser(ctx context.Context, userID string) (int64, error)

	InsertVerificationCode(ctx context.Context, rec VerificationCodeRecord) error
	// CountVerificationCodes counts rows created for email at or after since.
	CountVerificationCodes(ctx context.Context, email string, since time.Time) (int, error)
	// ConsumeVerificationCode atomically flips the owning user's
	// email-verified flag and deletes the code row, or does neither. Expired
	// rows are deleted and reported as ErrStoreNotFound.
	ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) (VerificationCodeRecord, error)

	InsertResetToken(ctx context.Context, rec ResetTokenRecord) error
	// ConsumeResetToken atomically updates the owning user's password hash and
	// deletes the token row. Expired rows are deleted and reported as
	// ErrStoreNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (ResetTokenRecord, error)

	// DeleteUnverifiedUsersBefore removes every user with an unverified email
	// created before cutoff, evaluating the predicate transactionally per row.
	// Returns the number of deleted users.
	DeleteUnverifiedUsersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier is the outbound-mail collaborator. Both methods are dispatched
// asynchronously after the triggering state change commits; a returned error
// is reported through audit and log but never rolls the state change back.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordResetToken(ctx context.Context, email, token string) error
}

// Hasher is the password-hashing black box consumed by the reset and account
// flows. [password.Argon2] satisfies it.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}

// SessionPair is returned by [Engine.IssueSession] and [Engine.RotateSession].
// AccessToken is a signed, short-lived, stateless claim; SessionToken is the
// opaque store-persisted refresh credential for out-of-band (cookie) storage.
type SessionPair struct {
	UserID       string
	AccessToken  string
	SessionToken string
}

// CreateAccountRequest is the input for [Engine.CreateAccount]. DisplayName
// is optional; Password may be empty for externally-authenticated identities.
type CreateAccountRequest struct {
	Email       string
	DisplayName string
	Password    string
}

// CreateAccountResult is returned by [Engine.CreateAccount].
type CreateAccountResult struct {
	UserID           string
	VerificationSent bool
}

// RateLimitScope selects one of the configured point buckets.
type RateLimitScope string

const (
	// ScopeAuth throttles credential endpoints, keyed by caller IP.
	ScopeAuth RateLimitScope = "auth"
	// ScopeGeneral throttles the wider API surface, keyed by caller IP.
	ScopeGeneral RateLimitScope = "general"
)

// RateLimitResult is returned by [Engine.CheckRateLimit]. RetryAfter is only
// meaningful when Allowed is false; Degraded reports that the in-process
// fallback served the decision.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Degraded   bool
}
