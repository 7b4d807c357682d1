// Package memory is an in-process CredentialStore for tests and
// single-instance development setups. All invariants of the contract hold
// (conditional rotation, transactional consume, cascading user deletes), but
// nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sableio/authcore"
)

// Store implements authcore.CredentialStore over mutex-guarded maps.
type Store struct {
	mu sync.Mutex

	users        map[string]authcore.UserRecord // by user id
	emailIndex   map[string]string              // lower(email) -> user id
	displayIndex map[string]string              // lower(display name) -> user id

	sessions map[string]authcore.SessionTokenRecord // by token hash
	codes    []authcore.VerificationCodeRecord
	resets   map[string]authcore.ResetTokenRecord // by token hash

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]authcore.UserRecord),
		emailIndex:   make(map[string]string),
		displayIndex: make(map[string]string),
		sessions:     make(map[string]authcore.SessionTokenRecord),
		resets:       make(map[string]authcore.ResetTokenRecord),
		now:          time.Now,
	}
}

// SetClock swaps the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emailIndex[strings.ToLower(email)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrStoreNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrStoreNotFound
	}
	return user, nil
}

func (s *Store) CreateUser(_ context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(input.Email)
	if _, exists := s.emailIndex[emailKey]; exists {
		return authcore.UserRecord{}, authcore.ErrStoreConflict
	}
	displayKey := strings.ToLower(input.DisplayName)
	if displayKey != "" {
		if _, exists := s.displayIndex[displayKey]; exists {
			return authcore.UserRecord{}, authcore.ErrStoreConflict
		}
	}

	user := authcore.UserRecord{
		UserID:       uuid.NewString(),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
		CreatedAt:    s.now(),
	}
	s.users[user.UserID] = user
	s.emailIndex[emailKey] = user.UserID
	if displayKey != "" {
		s.displayIndex[displayKey] = user.UserID
	}
	return user, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return authcore.ErrStoreNotFound
	}
	user.PasswordHash = newHash
	s.users[userID] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteUserLocked(userID)
	return nil
}

// deleteUserLocked removes the user and cascades to its token rows, matching
// the foreign-key cascade a relational schema provides.
func (s *Store) deleteUserLocked(userID string) {
	user, ok := s.users[userID]
	if !ok {
		return
	}
	delete(s.users, userID)
	delete(s.emailIndex, strings.ToLower(user.Email))
	if user.DisplayName != "" {
		delete(s.displayIndex, strings.ToLower(user.DisplayName))
	}
	for hash, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, hash)
		}
	}
	for hash, rec := range s.resets {
		if rec.UserID == userID {
			delete(s.resets, hash)
		}
	}
	kept := s.codes[:0]
	for _, rec := range s.codes {
		if rec.UserID != userID {
			kept = append(kept, rec)
		}
	}
	s.codes = kept
}

func (s *Store) InsertSessionToken(_ context.Context, rec authcore.SessionTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[rec.UserID]; !ok {
		return authcore.ErrStoreNotFound
	}
	s.sessions[rec.TokenHash] = rec
	return nil
}

func (s *Store) RotateSessionToken(_ context.Context, oldHash string, next authcore.SessionTokenRecord) (authcore.SessionTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sessions[oldHash]
	if !ok {
		return authcore.SessionTokenRecord{}, authcore.ErrStoreNotFound
	}
	if !s.now().Before(old.ExpiresAt) {
		// Lazy expiry: delete on read, then report the miss.
		delete(s.sessions, oldHash)
		return authcore.SessionTokenRecord{}, authcore.ErrStoreNotFound
	}

	delete(s.sessions, oldHash)
	next.UserID = old.UserID
	s.sessions[next.TokenHash] = next
	return next, nil
}

func (s *Store) DeleteSessionToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *Store) DeleteSessionTokensByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertVerificationCode(_ context.Context, rec authcore.VerificationCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[rec.UserID]; !ok {
		return authcore.ErrStoreNotFound
	}
	s.codes = append(s.codes, rec)
	return nil
}

func (s *Store) CountVerificationCodes(_ context.Context, email string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.codes {
		if strings.EqualFold(rec.Email, email) && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ConsumeVerificationCode(_ context.Context, email, code string, now time.Time) (authcore.VerificationCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, rec := range s.codes {
		if strings.EqualFold(rec.Email, email) && rec.Code == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return authcore.VerificationCodeRecord{}, authcore.ErrStoreNotFound
	}

	rec := s.codes[idx]
	if !now.Before(rec.ExpiresAt) {
		// Expired rows are cleaned up so the issue budget stays accurate.
		s.codes = append(s.codes[:idx], s.codes[idx+1:]...)
		return authcore.VerificationCodeRecord{}, authcore.ErrStoreNotFound
	}

	user, ok := s.users[rec.UserID]
	if !ok {
		s.codes = append(s.codes[:idx], s.codes[idx+1:]...)
		return authcore.VerificationCodeRecord{}, authcore.ErrStoreNotFound
	}

	// Flag flip and row delete happen under one lock: the single-use
	// guarantee of the relational transaction.
	user.EmailVerified = true
	s.users[rec.UserID] = user
	s.codes = append(s.codes[:idx], s.codes[idx+1:]...)
	return rec, nil
}

func (s *Store) InsertResetToken(_ context.Context, rec authcore.ResetTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[rec.UserID]; !ok {
		return authcore.ErrStoreNotFound
	}
	s.resets[rec.TokenHash] = rec
	return nil
}

func (s *Store) ConsumeResetToken(_ context.Context, tokenHash, newPasswordHash string, now time.Time) (authcore.ResetTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resets[tokenHash]
	if !ok {
		return authcore.ResetTokenRecord{}, authcore.ErrStoreNotFound
	}
	if !now.Before(rec.ExpiresAt) {
		delete(s.resets, tokenHash)
		return authcore.ResetTokenRecord{}, authcore.ErrStoreNotFound
	}

	user, ok := s.users[rec.UserID]
	if !ok {
		delete(s.resets, tokenHash)
		return authcore.ResetTokenRecord{}, authcore.ErrStoreNotFound
	}

	user.PasswordHash = newPasswordHash
	s.users[rec.UserID] = user
	delete(s.resets, tokenHash)
	return rec, nil
}

func (s *Store) DeleteUnverifiedUsersBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped int64
	for id, user := range s.users {
		if !user.EmailVerified && user.CreatedAt.Before(cutoff) {
			s.deleteUserLocked(id)
			reaped++
		}
	}
	return reaped, nil
}

var _ authcore.CredentialStore = (*Store)(nil)
