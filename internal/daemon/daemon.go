// Package daemon runs the background upload/compute worker and enforces
// single-instance execution per machine through a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"labsync/internal/config"
	"labsync/internal/queue"
	"labsync/internal/worker"
)

// Daemon owns the poller lifecycle and the instance lock.
type Daemon struct {
	cfg    *config.Config
	store  *queue.Store
	poller *worker.Poller
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// Status reports daemon runtime information for the CLI.
type Status struct {
	Running      bool
	Host         string
	QueueDBPath  string
	LockFilePath string
	Queue        queue.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, poller *worker.Poller, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || poller == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, poller, and logger")
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "labsyncd.lock")
	return &Daemon{
		cfg:      cfg,
		store:    store,
		poller:   poller,
		logger:   logger,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the poll loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another labsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		if err := d.poller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("poll loop exited", slog.Any("error", err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("labsync daemon started",
		slog.String("lock", d.lockPath),
		slog.String("db", d.store.Path()))
	return nil
}

// Stop halts the poll loop and releases the instance lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", slog.Any("error", err))
	}
	d.running.Store(false)
	d.logger.Info("labsync daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports runtime and queue state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Host:         d.cfg.Hostname(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Queue:        health,
	}, nil
}
