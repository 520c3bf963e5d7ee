package compute

import (
	"context"
	"fmt"
	"log/slog"

	"labsync/internal/config"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/services"
)

// Dispatcher converts analysis requests into queued compute tasks.
type Dispatcher struct {
	store    *queue.Store
	registry *Registry
	cfg      *config.Config
	logger   *slog.Logger
}

// NewDispatcher wires a dispatcher over the queue store.
func NewDispatcher(store *queue.Store, registry *Registry, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{store: store, registry: registry, cfg: cfg, logger: logger}
}

// Submit queues one compute task per dataset matching subject/session.
//
// Dedup happens twice. First an exact repeat of the full command string
// returns the existing task ids without touching anything else; this match
// is literal, so a reordered flag queues a fresh task. Second, per dataset,
// a task with the same analysis and canonical parameter set is reused
// rather than duplicated, which makes resubmission idempotent.
func (d *Dispatcher) Submit(ctx context.Context, analysisName, subject, session string, overrides map[string]any, fullCommand string) ([]int64, error) {
	if fullCommand != "" {
		existing, err := d.store.FindComputeTasksByCommand(ctx, fullCommand)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			ids := make([]int64, len(existing))
			for i, job := range existing {
				ids[i] = job.ID
			}
			d.logger.Info("command already queued",
				slog.String(logging.FieldAnalysis, analysisName),
				slog.Any("job_ids", ids))
			return ids, nil
		}
	}

	analysis, err := d.registry.Resolve(analysisName, d.cfg, overrides)
	if err != nil {
		return nil, err
	}

	datasets, err := analysis.FindDatasets(ctx, d.store, subject, session)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, services.Wrap(services.ErrNoMatchingFiles, "compute", "submit",
			fmt.Sprintf("no datasets for analysis %s subject %q session %q", analysisName, subject, session), nil)
	}

	canonical, err := CanonicalParameters(analysis.Parameters())
	if err != nil {
		return nil, err
	}
	parameterSetID, err := d.store.EnsureParameterSet(ctx, analysis.Algorithm(), canonical)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, key := range datasets {
		id, err := d.submitDataset(ctx, analysis, key, parameterSetID, fullCommand)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Dispatcher) submitDataset(ctx context.Context, analysis Analysis, key queue.DatasetKey, parameterSetID int64, fullCommand string) (int64, error) {
	existing, err := d.store.FindComputeTask(ctx, key, analysis.Name(), parameterSetID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		d.logger.Info("task already exists for parameter set",
			slog.Int64(logging.FieldJobID, existing.ID),
			slog.String(logging.FieldAnalysis, analysis.Name()),
			slog.String("dataset", key.String()))
		return existing.ID, nil
	}

	records, err := d.store.FileRecords(ctx, key.Prefix())
	if err != nil {
		return 0, err
	}
	var files []queue.StagedFile
	for _, record := range records {
		if !matchesFilters(record.Path, analysis.FileFilters()) {
			continue
		}
		files = append(files, queue.StagedFile{
			Path:     record.Path,
			Size:     record.Size,
			ModTime:  record.ModTime,
			Checksum: record.Checksum,
		})
	}
	if len(files) == 0 {
		return 0, services.Wrap(services.ErrNoMatchingFiles, "compute", "submit",
			fmt.Sprintf("dataset %s has no files matching %v for analysis %s",
				key.String(), analysis.FileFilters(), analysis.Name()), nil)
	}

	id, err := d.store.CreateComputeTask(ctx, queue.ComputeSpec{
		Analysis:       analysis.Name(),
		Command:        fullCommand,
		Target:         d.cfg.Compute.DefaultTarget,
		ParameterSetID: parameterSetID,
		Dataset:        key,
		Files:          files,
	})
	if err != nil {
		return 0, err
	}
	d.logger.Info("compute task queued",
		slog.Int64(logging.FieldJobID, id),
		slog.String(logging.FieldAnalysis, analysis.Name()),
		slog.String("dataset", key.String()),
		slog.Int("files", len(files)))
	return id, nil
}
