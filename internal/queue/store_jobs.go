package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"labsync/internal/services"
)

// UploadSpec describes a new upload job. Files must not be empty: a job with
// nothing assigned is invalid and is rejected before a row exists.
type UploadSpec struct {
	Rule    string
	Storage string
	Dataset DatasetKey
	Files   []StagedFile
}

// ComputeSpec describes a new compute task.
type ComputeSpec struct {
	Analysis       string
	Command        string
	Target         string
	ParameterSetID int64
	Dataset        DatasetKey
	Files          []StagedFile
}

// CreateUploadJob inserts an upload job and its assigned files in one
// transaction and returns the new job id.
func (s *Store) CreateUploadJob(ctx context.Context, spec UploadSpec) (int64, error) {
	if len(spec.Files) == 0 {
		return 0, services.Wrap(services.ErrValidation, "queue", "create", "upload job has no assigned files", nil)
	}
	return s.createJob(ctx, &Job{
		Kind:    KindUpload,
		Rule:    spec.Rule,
		Storage: spec.Storage,
		Dataset: spec.Dataset,
	}, spec.Files)
}

// CreateComputeTask inserts a compute task and its assigned files in one
// transaction and returns the new job id.
func (s *Store) CreateComputeTask(ctx context.Context, spec ComputeSpec) (int64, error) {
	if len(spec.Files) == 0 {
		return 0, services.Wrap(services.ErrValidation, "queue", "create", "compute task has no assigned files", nil)
	}
	return s.createJob(ctx, &Job{
		Kind:           KindCompute,
		Analysis:       spec.Analysis,
		Command:        spec.Command,
		Target:         spec.Target,
		ParameterSetID: spec.ParameterSetID,
		Dataset:        spec.Dataset,
	}, spec.Files)
}

func (s *Store) createJob(ctx context.Context, job *Job, files []StagedFile) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM jobs").Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate job id: %w", err)
	}

	now := timestamp()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, kind, waiting, status, rule, command, analysis, target,
            parameter_set_id, subject, session, dataset, storage,
            created_at, updated_at
        ) VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(job.Kind),
		string(StatusWaiting),
		nullableString(job.Rule),
		nullableString(job.Command),
		nullableString(job.Analysis),
		nullableString(job.Target),
		nullableInt64(job.ParameterSetID),
		nullableString(job.Dataset.Subject),
		nullableString(job.Dataset.Session),
		nullableString(job.Dataset.Dataset),
		nullableString(job.Storage),
		now,
		now,
	); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	for _, file := range files {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO assigned_files (job_id, path, size, mtime, md5) VALUES (?, ?, ?, ?, ?)`,
			id,
			file.Path,
			file.Size,
			nullableTime(file.ModTime),
			nullableString(file.Checksum),
		); err != nil {
			return 0, fmt.Errorf("insert assigned file %s: %w", file.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return id, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", fmt.Sprintf("job %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Kind        Kind
	Status      Status
	WaitingOnly bool
}

// ListJobs returns jobs matching the filter ordered by id.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WaitingOnly {
		clauses = append(clauses, "waiting = 1")
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextWaiting returns the oldest waiting job of a kind, or nil when the
// queue is drained.
func (s *Store) NextWaiting(ctx context.Context, kind Kind) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE kind = ? AND waiting = 1 ORDER BY id LIMIT 1`,
		string(kind),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next waiting: %w", err)
	}
	return job, nil
}

// FindComputeTasksByCommand returns compute tasks whose stored command matches
// the given string exactly. No normalization is applied to either side.
func (s *Store) FindComputeTasksByCommand(ctx context.Context, command string) ([]*Job, error) {
	if command == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE kind = ? AND command = ? ORDER BY id`,
		string(KindCompute),
		command,
	)
	if err != nil {
		return nil, fmt.Errorf("find by command: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FindComputeTask returns the compute task for a dataset, analysis, and
// parameter set, or nil when none exists.
func (s *Store) FindComputeTask(ctx context.Context, key DatasetKey, analysis string, parameterSetID int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE kind = ? AND analysis = ? AND parameter_set_id = ?
           AND subject IS ? AND session IS ? AND dataset IS ?
         ORDER BY id LIMIT 1`,
		string(KindCompute),
		analysis,
		parameterSetID,
		nullableString(key.Subject),
		nullableString(key.Session),
		nullableString(key.Dataset),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find compute task: %w", err)
	}
	return job, nil
}
