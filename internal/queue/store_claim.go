package queue

import (
	"context"
	"fmt"
	"strings"

	"labsync/internal/services"
)

// Claim attempts to take exclusive ownership of a job for host.
//
// The handoff is a single conditional UPDATE on the waiting flag, so no two
// workers can both observe waiting=true for the same id. A job that exists
// but is already held returns ClaimOutcome.AlreadyTaken with no error; a
// missing id is an ErrNotFound failure.
func (s *Store) Claim(ctx context.Context, id int64, host string) (*ClaimOutcome, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET waiting = 0,
             status = CASE kind WHEN ? THEN ? ELSE ? END,
             host = ?,
             updated_at = ?
         WHERE id = ? AND waiting = 1`,
		string(KindCompute),
		string(StatusRunning),
		string(StatusWorking),
		host,
		timestamp(),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}

	if affected == 0 {
		// Either the job never existed or another worker holds it.
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return &ClaimOutcome{Job: job, AlreadyTaken: true}, nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.AssignedFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ClaimOutcome{Job: job, Files: files}, nil
}

// Update applies a partial mutation to a job and stamps the worker identity.
// The log field is tail-truncated to fit the column.
func (s *Store) Update(ctx context.Context, id int64, host string, update Update) error {
	set := []string{"host = ?", "updated_at = ?"}
	args := []any{host, timestamp()}

	if update.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Log != nil {
		set = append(set, "log = ?")
		args = append(args, nullableString(services.TruncateLog(*update.Log, services.MaxJobLog)))
	}
	if update.Waiting != nil {
		set = append(set, "waiting = ?")
		if *update.Waiting {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update", fmt.Sprintf("job %d", id), nil)
	}
	return nil
}

// Complete marks a job COMPLETED unless a prior step already failed it.
// Status transitions are monotonic toward FAILED: a later success never
// overwrites it.
func (s *Store) Complete(ctx context.Context, id int64, host string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, waiting = 0, host = ?, updated_at = ?
         WHERE id = ? AND status != ?`,
		string(StatusCompleted),
		host,
		timestamp(),
		id,
		string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from one locked into FAILED.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Release deletes a finished upload job outright; the queue is consumed,
// not archived. Assigned-file rows go with it, processed-file rows stay.
func (s *Store) Release(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "release", fmt.Sprintf("job %d", id), nil)
	}
	return nil
}

// FinalizeUpload commits the finished file records and deletes the job row in
// one transaction. A crash can never leave the job gone with records missing,
// nor records present twice.
func (s *Store) FinalizeUpload(ctx context.Context, id int64, records []FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp()
	for _, record := range records {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO files (path, storage, size, mtime, md5, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			record.Path,
			record.Storage,
			record.Size,
			nullableTime(record.ModTime),
			nullableString(record.Checksum),
			now,
		); err != nil {
			return fmt.Errorf("insert file record %s: %w", record.Path, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "finalize", fmt.Sprintf("job %d", id), nil)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}
