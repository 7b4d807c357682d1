package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasswordResetRoundTrip(t *testing.T) {
	store := newFakeStore()
	user := store.addUser(t, "ana@example.com", true, time.Now())
	notifier := newFakeNotifier()
	engine := newTestEngine(t, store, func(b *Builder) {
		b.WithNotifier(notifier)
	})

	// Standing sessions must not survive a completed reset.
	if _, err := engine.IssueSession(context.Background(), user.UserID); err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	if err := engine.RequestPasswordReset(context.Background(), user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	notifier.waitDispatch(t)

	tokens := notifier.sentTokens()
	if len(tokens) != 1 {
		t.Fatalf("dispatched tokens = %d, want 1", len(tokens))
	}

	if err := engine.ConsumePasswordReset(context.Background(), tokens[0], "correct horse battery"); err != nil {
		t.Fatalf("ConsumePasswordReset failed: %v", err)
	}
	if got := store.user(user.UserID).PasswordHash; got != "hashed:correct horse battery" {
		t.Errorf("password hash = %q, not updated", got)
	}
	if got := store.sessionCount(user.UserID); got != 0 {
		t.Errorf("sessions after reset = %d, want 0", got)
	}

	// Single use: the consumed token is dead.
	if err := engine.ConsumePasswordReset(context.Background(), tokens[0], "another"); !errors.Is(err, ErrResetInvalid) {
		t.Errorf("second consume: got %v, want ErrResetInvalid", err)
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	store := newFakeStore()
	notifier := newFakeNotifier()
	engine := newTestEngine(t, store, func(b *Builder) {
		b.WithNotifier(notifier)
	})

	// Unknown addresses get the same nil result; nothing is persisted or
	// dispatched, so the response leaks no account existence.
	if err := engine.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email request: %v", err)
	}

	store.mu.Lock()
	pending := len(store.resets)
	store.mu.Unlock()
	if pending != 0 {
		t.Errorf("reset rows for unknown email = %d, want 0", pending)
	}
	if got := notifier.sentTokens(); len(got) != 0 {
		t.Errorf("dispatched tokens for unknown email = %d, want 0", len(got))
	}
}

func TestPasswordResetExpiredToken(t *testing.T) {
	store := newFakeStore()
	user := store.addUser(t, "ana@example.com", true, time.Now())
	notifier := newFakeNotifier()
	engine := newTestEngine(t, store, func(b *Builder) {
		b.WithNotifier(notifier)
	})

	base := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return base }

	if err := engine.RequestPasswordReset(context.Background(), user.Email); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	notifier.waitDispatch(t)
	token := notifier.sentTokens()[0]

	engine.now = func() time.Time { return base.Add(engine.config.PasswordReset.TokenTTL + time.Second) }
	if err := engine.ConsumePasswordReset(context.Background(), token, "too late"); !errors.Is(err, ErrResetInvalid) {
		t.Errorf("expired consume: got %v, want ErrResetInvalid", err)
	}
	if got := store.user(user.UserID).PasswordHash; got != "" {
		t.Errorf("expired token changed the password to %q", got)
	}
}

func TestPasswordResetValidation(t *testing.T) {
	engine := newTestEngine(t, newFakeStore())

	if err := engine.RequestPasswordReset(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty email: got %v, want ErrValidation", err)
	}
	if err := engine.ConsumePasswordReset(context.Background(), "", "pw"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty token: got %v, want ErrValidation", err)
	}
	if err := engine.ConsumePasswordReset(context.Background(), "tok", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty password: got %v, want ErrValidation", err)
	}
}

func TestPasswordResetUnknownEmailRespectsContext(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.PasswordReset.EnumerationDelay = 10 * time.Second
	engine := newTestEngine(t, store, func(b *Builder) {
		b.WithConfig(cfg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.RequestPasswordReset(ctx, "ghost@example.com")
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enumeration delay ignored context cancellation")
	}
}
