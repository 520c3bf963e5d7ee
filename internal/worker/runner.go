// Package worker executes claimed jobs: checksum verification, rule
// application, and storage upload for upload jobs; algorithm execution for
// compute tasks.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/ledger"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/services"
	"labsync/internal/storage"
)

// Runner is the per-worker entry point that turns a job id into executed
// work. One Runner serves many jobs; gateways are opened lazily and cached.
type Runner struct {
	store    *queue.Store
	ledger   *ledger.Ledger
	engine   *rules.Engine
	registry *compute.Registry
	cfg      *config.Config
	logger   *slog.Logger
	host     string

	mu       sync.Mutex
	gateways map[string]storage.Gateway
}

// NewRunner wires a runner over the shared components.
func NewRunner(store *queue.Store, led *ledger.Ledger, engine *rules.Engine, registry *compute.Registry, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		store:    store,
		ledger:   led,
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		host:     cfg.Hostname(),
		gateways: make(map[string]storage.Gateway),
	}
}

// Run claims and executes one job.
//
// Losing the claim race is not a failure: the job is logged and skipped. Any
// error during execution lands on the job row as FAILED with the truncated
// message, and Run still returns nil; the job carries its own outcome, and a
// scheduler that re-invokes the worker must not see the race as fatal. Only
// infrastructure errors, like a missing job id, surface to the caller.
func (r *Runner) Run(ctx context.Context, jobID int64) error {
	runID := uuid.NewString()
	log := r.logger.With(
		slog.Int64(logging.FieldJobID, jobID),
		slog.String(logging.FieldRunID, runID),
		slog.String(logging.FieldHost, r.host),
	)

	outcome, err := r.store.Claim(ctx, jobID, r.host)
	if err != nil {
		return err
	}
	if outcome.AlreadyTaken {
		log.Info("job already taken",
			slog.String(logging.FieldHost, outcome.Job.Host),
			slog.String(logging.FieldStatus, string(outcome.Job.Status)))
		return nil
	}

	log.Info("job claimed",
		slog.String(logging.FieldJobKind, string(outcome.Job.Kind)),
		slog.Int("files", len(outcome.Files)))

	if err := r.execute(ctx, outcome, log); err != nil {
		log.Error("job failed", logging.Error(err))
		if updateErr := r.store.Update(ctx, jobID, r.host, queue.Update{
			Status: queue.StatusOf(queue.StatusFailed),
			Log:    queue.LogOf(err.Error()),
		}); updateErr != nil {
			log.Error("recording failure status failed", logging.Error(updateErr))
			return updateErr
		}
		return nil
	}
	return nil
}

// execute runs the job body. Panics in transforms or analyses are converted
// to errors so the job still reaches a terminal status.
func (r *Runner) execute(ctx context.Context, outcome *queue.ClaimOutcome, log *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %d panicked: %v", outcome.Job.ID, rec)
		}
	}()
	switch outcome.Job.Kind {
	case queue.KindUpload:
		return r.runUpload(ctx, outcome, log)
	case queue.KindCompute:
		return r.runCompute(ctx, outcome, log)
	default:
		return services.Wrap(services.ErrValidation, "worker", "run",
			fmt.Sprintf("job %d has unknown kind %q", outcome.Job.ID, outcome.Job.Kind), nil)
	}
}

func (r *Runner) runUpload(ctx context.Context, outcome *queue.ClaimOutcome, log *slog.Logger) error {
	job := outcome.Job

	files, err := r.ledger.Verify(ctx, job.ID)
	if err != nil {
		return err
	}

	files, ruleName, err := r.engine.Apply(ctx, job, files)
	if err != nil {
		return err
	}

	gateway, err := r.gateway(job.Storage)
	if err != nil {
		return err
	}
	if err := r.uploadFiles(ctx, gateway, files); err != nil {
		return err
	}

	records := make([]queue.FileRecord, len(files))
	for i, file := range files {
		records[i] = queue.FileRecord{
			Path:     file.Path,
			Storage:  gateway.Name(),
			Size:     file.Size,
			ModTime:  file.ModTime,
			Checksum: file.Checksum,
		}
	}
	if err := r.store.FinalizeUpload(ctx, job.ID, records); err != nil {
		return err
	}

	key := job.Dataset
	if key.IsZero() {
		key = datasetFromFiles(files)
	}
	if err := r.engine.PostUpload(ctx, ruleName, key); err != nil {
		// The upload itself is committed; a hook failure is logged, not
		// replayed, because the job row is already gone.
		log.Error("post-upload hook failed",
			slog.String(logging.FieldRule, ruleName),
			logging.Error(err))
	}

	log.Info("upload finalized",
		slog.String(logging.FieldStorage, gateway.Name()),
		slog.String(logging.FieldRule, ruleName),
		slog.Int("files", len(records)))
	return nil
}

// uploadFiles pushes the active file set through the gateway with bounded
// parallelism. All transfers finish before the finalize commit runs.
func (r *Runner) uploadFiles(ctx context.Context, gateway storage.Gateway, files []queue.StagedFile) error {
	parallelism := r.cfg.Upload.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if parallelism > len(files) {
		parallelism = len(files)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan queue.StagedFile)
	errs := make(chan error, len(files))
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				if err := gateway.Put(ctx, r.ledger.StagedPath(file.Path), file.Path); err != nil {
					errs <- err
					cancel()
					return
				}
			}
		}()
	}

	for _, file := range files {
		select {
		case jobs <- file:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runCompute(ctx context.Context, outcome *queue.ClaimOutcome, log *slog.Logger) error {
	job := outcome.Job

	overrides, err := r.loadParameters(ctx, job)
	if err != nil {
		return err
	}
	analysis, err := r.registry.Resolve(job.Analysis, r.cfg, overrides)
	if err != nil {
		return err
	}

	if err := r.stageInputs(ctx, job, outcome.Files, log); err != nil {
		return err
	}

	workdir := r.ledger.StagedPath(job.Dataset.Prefix())
	log.Info("running analysis",
		slog.String(logging.FieldAnalysis, job.Analysis),
		slog.String("workdir", workdir))
	if err := analysis.Compute(ctx, job, outcome.Files, workdir); err != nil {
		return err
	}

	if err := r.store.Complete(ctx, job.ID, r.host); err != nil {
		return err
	}
	log.Info("compute task completed", slog.String(logging.FieldAnalysis, job.Analysis))
	return nil
}

// loadParameters reconstructs the task's parameter dict from its stored
// parameter set so the analysis runs with exactly what was submitted.
func (r *Runner) loadParameters(ctx context.Context, job *queue.Job) (map[string]any, error) {
	if job.ParameterSetID == 0 {
		return nil, nil
	}
	set, err := r.store.GetParameterSet(ctx, job.ParameterSetID)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(set.Parameters), &params); err != nil {
		return nil, services.Wrap(services.ErrValidation, "worker", "parameters",
			fmt.Sprintf("parameter set %d is not valid JSON", set.ID), err)
	}
	return params, nil
}

// stageInputs ensures every assigned file is present under the staging root,
// pulling missing ones from the job's storage when the config allows it.
func (r *Runner) stageInputs(ctx context.Context, job *queue.Job, files []queue.StagedFile, log *slog.Logger) error {
	var missing []queue.StagedFile
	for _, file := range files {
		if fileExists(r.ledger.StagedPath(file.Path)) {
			continue
		}
		missing = append(missing, file)
	}
	if len(missing) == 0 {
		return nil
	}
	if !r.cfg.Compute.AllowStorageGet {
		return services.Wrap(services.ErrNotFound, "worker", "stage",
			fmt.Sprintf("job %d: %d input files absent and storage fetch disabled, first %s",
				job.ID, len(missing), missing[0].Path), nil)
	}

	storageName := job.Storage
	if storageName == "" {
		storageName = r.cfg.Upload.Storage
	}
	gateway, err := r.gateway(storageName)
	if err != nil {
		return err
	}
	for _, file := range missing {
		if err := gateway.Get(ctx, file.Path, r.ledger.StagedPath(file.Path)); err != nil {
			return err
		}
		log.Debug("input fetched from storage",
			slog.String(logging.FieldStorage, storageName),
			slog.String(logging.FieldPath, file.Path))
	}
	return nil
}

func (r *Runner) gateway(name string) (storage.Gateway, error) {
	if name == "" {
		name = r.cfg.Upload.Storage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if gateway, ok := r.gateways[name]; ok {
		return gateway, nil
	}
	target, ok := r.cfg.Storage[name]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "worker", "storage",
			fmt.Sprintf("storage %q is not configured", name), nil)
	}
	gateway, err := storage.Open(name, target, r.logger)
	if err != nil {
		return nil, err
	}
	r.gateways[name] = gateway
	return gateway, nil
}
