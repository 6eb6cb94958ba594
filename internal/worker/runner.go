package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSweepInProgress is returned by Sweep when another sweep (ticker or
// cron-triggered) is already running. Callers treat it as a benign no-op.
var ErrSweepInProgress = errors.New("worker: sweep already in progress")

// Runner runs the dispatch sweep on a fixed interval and also exposes it
// for on-demand triggering by the cron endpoint. Sweeps are serialized: at
// most one runs at a time across both entry points.
type Runner struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger

	mu sync.Mutex
}

func NewRunner(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Runner{sweeper: sweeper, interval: interval, logger: logger}
}

// Start runs the ticker loop until ctx is cancelled. It blocks; run it in
// its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting dispatch runner", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker: dispatch runner stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				r.logger.Error("worker: sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one sweep now, unless one is already running.
func (r *Runner) Sweep(ctx context.Context) (Summary, error) {
	if !r.mu.TryLock() {
		return Summary{}, ErrSweepInProgress
	}
	defer r.mu.Unlock()

	return r.sweeper.RunSweep(ctx)
}
