// Command labsyncd runs the background worker that drains the upload and
// compute queues on an interval.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"labsync/internal/config"
	"labsync/internal/daemon"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", slog.Any("error", err))
		return
	}

	d, err := daemon.New(cfg, store, buildPoller(cfg, store, logger), logger)
	if err != nil {
		logger.Error("create daemon", slog.Any("error", err))
		_ = store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", slog.Any("error", err))
		return
	}

	<-ctx.Done()
	logger.Info("labsyncd shutting down")
}

func buildPoller(cfg *config.Config, store *queue.Store, logger *slog.Logger) *worker.Poller {
	runner := newRunner(cfg, store, logger)
	interval := time.Duration(cfg.Worker.PollInterval) * time.Second
	return worker.NewPoller(store, runner, interval, logger)
}
