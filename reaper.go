package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reaper periodically deletes ghost accounts: users that never verified
// their email and are past the configured grace period. It runs once per
// day at the configured wall-clock time and is safe alongside live traffic;
// the store evaluates the unverified predicate transactionally per row, so a
// user verifying in the same instant survives.
type Reaper struct {
	engine *Engine

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewReaper returns a stopped Reaper bound to the engine's store and config.
func NewReaper(engine *Engine) (*Reaper, error) {
	if engine == nil || engine.store == nil {
		return nil, ErrEngineNotReady
	}
	if _, err := parseRunAt(engine.config.Reaper.RunAt); err != nil {
		return nil, err
	}
	return &Reaper{engine: engine}, nil
}

// Start launches the sweep loop. Start is single-use; Stop (or cancelling
// ctx) ends the loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("reaper already started")
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx)
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	runAt, _ := parseRunAt(r.engine.config.Reaper.RunAt)
	for {
		wait := untilNext(r.engine.now(), runAt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := r.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.engine.warn("ghost account sweep failed", "error", err)
		}
	}
}

// SweepOnce runs one deletion pass and returns the number of reaped users.
// Exposed for operational tooling; idempotent and safe to run concurrently
// with the scheduled loop.
func (r *Reaper) SweepOnce(ctx context.Context) (int64, error) {
	e := r.engine
	cutoff := e.now().Add(-e.config.Reaper.UnverifiedGrace)

	reaped, err := e.store.DeleteUnverifiedUsersBefore(ctx, cutoff)
	if err != nil {
		e.emitAudit(ctx, auditEventReaperSweep, false, "", "", err, nil)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventReaperSweep, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"reaped": fmt.Sprintf("%d", reaped),
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		}
	})
	return reaped, nil
}

// runAtTime is a wall-clock time of day in UTC.
type runAtTime struct {
	hour   int
	minute int
}

func parseRunAt(s string) (runAtTime, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return runAtTime{}, errors.New(`Reaper.RunAt must be "HH:MM"`)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return runAtTime{}, errors.New("Reaper.RunAt hour out of range")
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return runAtTime{}, errors.New("Reaper.RunAt minute out of range")
	}
	return runAtTime{hour: hour, minute: minute}, nil
}

// untilNext returns the duration from now to the next occurrence of t in UTC.
func untilNext(now time.Time, t runAtTime) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
