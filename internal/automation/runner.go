package automation

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner drives the sweeper on a periodic interval. Each tick runs a batch
// sweep, then due schedule entries, then the hooks. Ticks are independent:
// there is no catch-up drain on shutdown, the next deployment's first tick
// recomputes whatever went stale.
type Runner struct {
	sweeper  *Sweeper
	interval time.Duration

	// AlertsFn, when set, runs after each sweep (threshold evaluation).
	AlertsFn func(ctx context.Context) error
	// CleanupFn, when set, runs at most once per CleanupEvery (retention).
	CleanupFn    func(ctx context.Context) error
	CleanupEvery time.Duration

	lastCleanup time.Time
}

// NewRunner creates a runner with the given tick interval.
func NewRunner(sweeper *Sweeper, interval time.Duration) *Runner {
	return &Runner{
		sweeper:      sweeper,
		interval:     interval,
		CleanupEvery: 24 * time.Hour,
	}
}

// Start runs the automation loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("[Runner] Starting automation runner", "interval", r.interval)

	// Initial tick so a fresh deployment does not wait a full interval.
	r.tick(ctx)

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			slog.Info("[Runner] Stopping (context cancelled)")
			return nil
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.sweeper.ProcessBatch(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			slog.Warn("[Runner] Skipping tick, sweep already running")
			return
		}
		slog.Error("[Runner] Batch sweep failed", "error", err)
	}

	if _, err := r.sweeper.ProcessScheduled(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
		slog.Error("[Runner] Scheduled sweep failed", "error", err)
	}

	if r.AlertsFn != nil {
		if err := r.AlertsFn(ctx); err != nil {
			slog.Error("[Runner] Alert evaluation failed", "error", err)
		}
	}

	if r.CleanupFn != nil && time.Since(r.lastCleanup) >= r.CleanupEvery {
		if err := r.CleanupFn(ctx); err != nil {
			slog.Error("[Runner] Retention cleanup failed", "error", err)
		} else {
			r.lastCleanup = time.Now().UTC()
		}
	}
}
