package main

import (
	"log/slog"
	"strings"
	"sync"

	"labsync/internal/checksum"
	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/ledger"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/worker"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

// withStore opens the queue store for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// buildRunner assembles the worker components over an open store.
func (c *commandContext) buildRunner(cfg *config.Config, store *queue.Store) *worker.Runner {
	logger := c.ensureLogger()
	led := ledger.New(store, checksum.New(cfg.Upload.Parallelism), cfg.Paths.StagingRoot, logger)
	engine := rules.NewEngine(led, logger, rules.EphysCompression())
	return worker.NewRunner(store, led, engine, compute.NewRegistry(), cfg, logger)
}
