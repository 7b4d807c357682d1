package authcore

import (
	"context"
	"testing"
	"time"
)

func TestSweepOnce(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(t, store)

	now := time.Date(2026, time.March, 5, 3, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	ghost := store.addUser(t, "ghost@example.com", false, now.Add(-4*24*time.Hour))
	fresh := store.addUser(t, "fresh@example.com", false, now.Add(-2*24*time.Hour))
	veteran := store.addUser(t, "vet@example.com", true, now.Add(-30*24*time.Hour))

	// The ghost's token rows must go with it.
	if _, err := engine.IssueSession(context.Background(), ghost.UserID); err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}

	reaper, err := NewReaper(engine)
	if err != nil {
		t.Fatalf("NewReaper failed: %v", err)
	}

	reaped, err := reaper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}

	if store.user(ghost.UserID).UserID != "" {
		t.Error("ghost account survived the sweep")
	}
	if got := store.sessionCount(ghost.UserID); got != 0 {
		t.Errorf("ghost session rows = %d, want 0", got)
	}
	if store.user(fresh.UserID).UserID == "" {
		t.Error("unverified account inside grace was reaped")
	}
	if store.user(veteran.UserID).UserID == "" {
		t.Error("verified account was reaped")
	}

	// A second pass finds nothing.
	if reaped, _ := reaper.SweepOnce(context.Background()); reaped != 0 {
		t.Errorf("second sweep reaped = %d, want 0", reaped)
	}
}

func TestReaperStartStop(t *testing.T) {
	engine := newTestEngine(t, newFakeStore())

	reaper, err := NewReaper(engine)
	if err != nil {
		t.Fatalf("NewReaper failed: %v", err)
	}

	// Stop before Start is a no-op.
	reaper.Stop()

	if err := reaper.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := reaper.Start(context.Background()); err == nil {
		t.Error("second Start accepted")
	}

	done := make(chan struct{})
	go func() {
		reaper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestParseRunAt(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    runAtTime
		wantErr bool
	}{
		{in: "03:00", want: runAtTime{hour: 3, minute: 0}},
		{in: "23:59", want: runAtTime{hour: 23, minute: 59}},
		{in: "00:00", want: runAtTime{}},
		{in: "24:00", wantErr: true},
		{in: "03:60", wantErr: true},
		{in: "3", wantErr: true},
		{in: "", wantErr: true},
		{in: "aa:bb", wantErr: true},
	} {
		got, err := parseRunAt(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseRunAt(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRunAt(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseRunAt(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestUntilNext(t *testing.T) {
	at := runAtTime{hour: 3, minute: 0}

	before := time.Date(2026, time.March, 5, 2, 0, 0, 0, time.UTC)
	if got := untilNext(before, at); got != time.Hour {
		t.Errorf("1h before run time: %v, want 1h", got)
	}

	after := time.Date(2026, time.March, 5, 4, 0, 0, 0, time.UTC)
	if got := untilNext(after, at); got != 23*time.Hour {
		t.Errorf("1h past run time: %v, want 23h", got)
	}

	exactly := time.Date(2026, time.March, 5, 3, 0, 0, 0, time.UTC)
	if got := untilNext(exactly, at); got != 24*time.Hour {
		t.Errorf("at run time: %v, want 24h", got)
	}
}
