// Package postgres is the relational CredentialStore. Single-use guarantees
// ride on the database: rotation is a conditional delete-then-insert in one
// transaction, and code consumption locks the row before flipping the
// verified flag, so concurrent engine instances coordinate through the
// store rather than through application locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sableio/authcore"
	"github.com/sableio/authcore/store/postgres/migrations"
)

const pgUniqueViolation = "23505"

// Store implements authcore.CredentialStore over database/sql with the pgx
// stdlib driver.
type Store struct {
	db *sql.DB
}

// New wraps an existing handle. The caller owns the handle's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunMigrations applies the embedded goose migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	query := `
		SELECT id, email, COALESCE(display_name, ''), COALESCE(password_hash, ''), email_verified, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	query := `
		SELECT id, email, COALESCE(display_name, ''), COALESCE(password_hash, ''), email_verified, created_at
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

func (s *Store) scanUser(row *sql.Row) (authcore.UserRecord, error) {
	var u authcore.UserRecord
	err := row.Scan(&u.UserID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.EmailVerified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrStoreNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	query := `
		INSERT INTO users (email, display_name, password_hash)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		RETURNING id, created_at
	`
	u := authcore.UserRecord{
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
	}
	err := s.db.QueryRowContext(ctx, query, input.Email, input.DisplayName, input.PasswordHash).
		Scan(&u.UserID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.UserRecord{}, authcore.ErrStoreConflict
		}
		return authcore.UserRecord{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, newHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return authcore.ErrStoreNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	// Token rows go with the user via ON DELETE CASCADE.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) InsertSessionToken(ctx context.Context, rec authcore.SessionTokenRecord) error {
	query := `
		INSERT INTO session_tokens (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) RotateSessionToken(ctx context.Context, oldHash string, next authcore.SessionTokenRecord) (authcore.SessionTokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authcore.SessionTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	// Conditional delete is the synchronization point: of N concurrent
	// rotations with the same old hash, exactly one sees RowsAffected() == 1.
	var userID string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM session_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING user_id
	`, oldHash, next.CreatedAt).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lazy expiry cleanup: if the row exists but is stale, drop it.
			_, _ = tx.ExecContext(ctx, `DELETE FROM session_tokens WHERE token_hash = $1`, oldHash)
			_ = tx.Commit()
			return authcore.SessionTokenRecord{}, authcore.ErrStoreNotFound
		}
		return authcore.SessionTokenRecord{}, fmt.Errorf("db error: %w", err)
	}

	next.UserID = userID
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_tokens (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, next.TokenHash, next.UserID, next.ExpiresAt, next.CreatedAt)
	if err != nil {
		return authcore.SessionTokenRecord{}, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return authcore.SessionTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	return next, nil
}

func (s *Store) DeleteSessionToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) DeleteSessionTokensByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) InsertVerificationCode(ctx context.Context, rec authcore.VerificationCodeRecord) error {
	query := `
		INSERT INTO verification_codes (user_id, email, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, rec.UserID, rec.Email, rec.Code, rec.ExpiresAt, rec.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) CountVerificationCodes(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_codes
		WHERE lower(email) = lower($1) AND created_at >= $2
	`, email, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (s *Store) ConsumeVerificationCode(ctx context.Context, email, code string, now time.Time) (authcore.VerificationCodeRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	var (
		id  int64
		rec authcore.VerificationCodeRecord
	)
	// Row lock serializes concurrent consumers of the same code; the loser
	// re-reads after commit and finds nothing.
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, email, code, expires_at, created_at
		FROM verification_codes
		WHERE lower(email) = lower($1) AND code = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, email, code).Scan(&id, &rec.UserID, &rec.Email, &rec.Code, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.VerificationCodeRecord{}, authcore.ErrStoreNotFound
		}
		return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
	}

	if !now.Before(rec.ExpiresAt) {
		// Delete-on-read keeps the issue budget honest.
		if _, err := tx.ExecContext(ctx, `DELETE FROM verification_codes WHERE id = $1`, id); err != nil {
			return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
		}
		return authcore.VerificationCodeRecord{}, authcore.ErrStoreNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE WHERE id = $1`, rec.UserID); err != nil {
		return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE id = $1`, id); err != nil {
		return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return authcore.VerificationCodeRecord{}, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (s *Store) InsertResetToken(ctx context.Context, rec authcore.ResetTokenRecord) error {
	query := `
		INSERT INTO password_reset_tokens (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (authcore.ResetTokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authcore.ResetTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback()

	rec := authcore.ResetTokenRecord{TokenHash: tokenHash}
	err = tx.QueryRowContext(ctx, `
		DELETE FROM password_reset_tokens
		WHERE token_hash = $1
		RETURNING user_id, expires_at, created_at
	`, tokenHash).Scan(&rec.UserID, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.ResetTokenRecord{}, authcore.ErrStoreNotFound
		}
		return authcore.ResetTokenRecord{}, fmt.Errorf("db error: %w", err)
	}

	if !now.Before(rec.ExpiresAt) {
		// Commit the opportunistic delete of the stale row, then miss.
		if err := tx.Commit(); err != nil {
			return authcore.ResetTokenRecord{}, fmt.Errorf("db error: %w", err)
		}
		return authcore.ResetTokenRecord{}, authcore.ErrStoreNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, rec.UserID, newPasswordHash); err != nil {
		return authcore.ResetTokenRecord{}, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return authcore.ResetTokenRecord{}, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (s *Store) DeleteUnverifiedUsersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// The predicate runs inside the statement, so a user verified in the
	// same instant is not reaped. Token rows cascade.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM users
		WHERE email_verified = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ authcore.CredentialStore = (*Store)(nil)
