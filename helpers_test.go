package authcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// fakeStore is a map-backed CredentialStore for engine tests. It honors the
// contract's atomicity by serializing everything behind one mutex and lets
// tests inject operational failures per method group.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]UserRecord
	byEmail  map[string]string
	sessions map[string]SessionTokenRecord
	codes    []VerificationCodeRecord
	resets   map[string]ResetTokenRecord

	nextUserID int

	failUsers    error
	failSessions error
	failCodes    error
	failResets   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]UserRecord{},
		byEmail:  map[string]string{},
		sessions: map[string]SessionTokenRecord{},
		resets:   map[string]ResetTokenRecord{},
	}
}

func (s *fakeStore) addUser(t *testing.T, email string, verified bool, createdAt time.Time) UserRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	user := UserRecord{
		UserID:        fmt.Sprintf("u%03d", s.nextUserID),
		Email:         email,
		EmailVerified: verified,
		CreatedAt:     createdAt,
	}
	s.users[user.UserID] = user
	s.byEmail[strings.ToLower(email)] = user.UserID
	return user
}

func (s *fakeStore) user(id string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *fakeStore) sessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.sessions {
		if rec.UserID == userID {
			n++
		}
	}
	return n
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers != nil {
		return UserRecord{}, s.failUsers
	}
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return UserRecord{}, ErrStoreNotFound
	}
	return s.users[id], nil
}

func (s *fakeStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers != nil {
		return UserRecord{}, s.failUsers
	}
	user, ok := s.users[userID]
	if !ok {
		return UserRecord{}, ErrStoreNotFound
	}
	return user, nil
}

func (s *fakeStore) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers != nil {
		return UserRecord{}, s.failUsers
	}
	if _, exists := s.byEmail[strings.ToLower(input.Email)]; exists {
		return UserRecord{}, ErrStoreConflict
	}
	s.nextUserID++
	user := UserRecord{
		UserID:       fmt.Sprintf("u%03d", s.nextUserID),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
		CreatedAt:    time.Now(),
	}
	s.users[user.UserID] = user
	s.byEmail[strings.ToLower(input.Email)] = user.UserID
	return user, nil
}

func (s *fakeStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrStoreNotFound
	}
	user.PasswordHash = newHash
	s.users[userID] = user
	return nil
}

func (s *fakeStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteUserLocked(userID)
	return nil
}

func (s *fakeStore) deleteUserLocked(userID string) {
	user, ok := s.users[userID]
	if !ok {
		return
	}
	delete(s.users, userID)
	delete(s.byEmail, strings.ToLower(user.Email))
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

func (s *fakeStore) InsertSessionToken(_ context.Context, rec SessionTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions != nil {
		return s.failSessions
	}
	s.sessions[rec.TokenHash] = rec
	return nil
}

func (s *fakeStore) RotateSessionToken(_ context.Context, oldHash string, next SessionTokenRecord) (SessionTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions != nil {
		return SessionTokenRecord{}, s.failSessions
	}
	old, ok := s.sessions[oldHash]
	if !ok {
		return SessionTokenRecord{}, ErrStoreNotFound
	}
	if !next.CreatedAt.Before(old.ExpiresAt) {
		delete(s.sessions, oldHash)
		return SessionTokenRecord{}, ErrStoreNotFound
	}
	delete(s.sessions, oldHash)
	next.UserID = old.UserID
	s.sessions[next.TokenHash] = next
	return next, nil
}

func (s *fakeStore) DeleteSessionToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions != nil {
		return s.failSessions
	}
	delete(s.sessions, tokenHash)
	return nil
}

func (s *fakeStore) DeleteSessionTokensByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSessions != nil {
		return 0, s.failSessions
	}
	var n int64
	for hash, rec := range s.sessions {
		if rec.UserID == userID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertVerificationCode(_ context.Context, rec VerificationCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCodes != nil {
		return s.failCodes
	}
	s.codes = append(s.codes, rec)
	return nil
}

func (s *fakeStore) CountVerificationCodes(_ context.Context, email string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCodes != nil {
		return 0, s.failCodes
	}
	count := 0
	for _, rec := range s.codes {
		if strings.EqualFold(rec.Email, email) && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) ConsumeVerificationCode(_ context.Context, email, code string, now time.Time) (VerificationCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCodes != nil {
		return VerificationCodeRecord{}, s.failCodes
	}
	idx := -1
	for i, rec := range s.codes {
		if strings.EqualFold(rec.Email, email) && rec.Code == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return VerificationCodeRecord{}, ErrStoreNotFound
	}
	rec := s.codes[idx]
	s.codes = append(s.codes[:idx], s.codes[idx+1:]...)
	if !now.Before(rec.ExpiresAt) {
		return VerificationCodeRecord{}, ErrStoreNotFound
	}
	user, ok := s.users[rec.UserID]
	if !ok {
		return VerificationCodeRecord{}, ErrStoreNotFound
	}
	user.EmailVerified = true
	s.users[rec.UserID] = user
	return rec, nil
}

func (s *fakeStore) InsertResetToken(_ context.Context, rec ResetTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failResets != nil {
		return s.failResets
	}
	s.resets[rec.TokenHash] = rec
	return nil
}

func (s *fakeStore) ConsumeResetToken(_ context.Context, tokenHash, newPasswordHash string, now time.Time) (ResetTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failResets != nil {
		return ResetTokenRecord{}, s.failResets
	}
	rec, ok := s.resets[tokenHash]
	if !ok {
		return ResetTokenRecord{}, ErrStoreNotFound
	}
	delete(s.resets, tokenHash)
	if !now.Before(rec.ExpiresAt) {
		return ResetTokenRecord{}, ErrStoreNotFound
	}
	user, ok := s.users[rec.UserID]
	if !ok {
		return ResetTokenRecord{}, ErrStoreNotFound
	}
	user.PasswordHash = newPasswordHash
	s.users[rec.UserID] = user
	return rec, nil
}

func (s *fakeStore) DeleteUnverifiedUsersBefore(_ context.Context, cutoff time.Time) (int64, error) {
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

// fakeNotifier records dispatches and optionally fails them.
type fakeNotifier struct {
	mu      sync.Mutex
	codes   []string
	tokens  []string
	fail    error
	touched chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{touched: make(chan struct{}, 16)}
}

func (n *fakeNotifier) SendVerificationCode(_ context.Context, _, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	select {
	case n.touched <- struct{}{}:
	default:
	}
	return n.fail
}

func (n *fakeNotifier) SendPasswordResetToken(_ context.Context, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	select {
	case n.touched <- struct{}{}:
	default:
	}
	return n.fail
}

func (n *fakeNotifier) waitDispatch(t *testing.T) {
	t.Helper()
	select {
	case <-n.touched:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier dispatch timed out")
	}
}

func (n *fakeNotifier) sentTokens() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.tokens...)
}

type fakeHasher struct{}

func (fakeHasher) Hash(plain string) (string, error) { return "hashed:" + plain, nil }

func (fakeHasher) Verify(plain, encoded string) (bool, error) {
	return encoded == "hashed:"+plain, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("test-secret-key-material")
	cfg.PasswordReset.EnumerationDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, store CredentialStore, opts ...func(*Builder)) *Engine {
	t.Helper()

	builder := New().
		WithConfig(testConfig()).
		WithStore(store).
		WithHasher(fakeHasher{})
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
