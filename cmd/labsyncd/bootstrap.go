package main

import (
	"log/slog"

	"labsync/internal/checksum"
	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/ledger"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/worker"
)

// newRunner assembles the job runner with the standard rule table and
// analysis registry.
func newRunner(cfg *config.Config, store *queue.Store, logger *slog.Logger) *worker.Runner {
	led := ledger.New(store, checksum.New(cfg.Upload.Parallelism), cfg.Paths.StagingRoot, logger)
	engine := rules.NewEngine(led, logger, rules.EphysCompression())
	return worker.NewRunner(store, led, engine, compute.NewRegistry(), cfg, logger)
}
