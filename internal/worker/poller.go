package worker

import (
	"context"
	"log/slog"
	"time"

	"labsync/internal/logging"
	"labsync/internal/queue"
)

// Poller drains waiting jobs on an interval until its context is cancelled.
type Poller struct {
	store    *queue.Store
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller builds a poller ticking at the given interval.
func NewPoller(store *queue.Store, runner *Runner, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{store: store, runner: runner, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. Job failures are recorded on the job
// rows by the runner and do not stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poll pass failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce drains every currently waiting job once, uploads before compute
// tasks so fresh data lands in storage before analyses look for it.
func (p *Poller) PollOnce(ctx context.Context) error {
	for _, kind := range []queue.Kind{queue.KindUpload, queue.KindCompute} {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			job, err := p.store.NextWaiting(ctx, kind)
			if err != nil {
				return err
			}
			if job == nil {
				break
			}
			if err := p.runner.Run(ctx, job.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
