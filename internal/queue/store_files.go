package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"labsync/internal/services"
)

// AssignedFiles returns the active file set for a job ordered by path.
func (s *Store) AssignedFiles(ctx context.Context, jobID int64) ([]StagedFile, error) {
	return s.stagedFiles(ctx, "assigned_files", jobID)
}

// ProcessedFiles returns the files a rule consumed for a job.
func (s *Store) ProcessedFiles(ctx context.Context, jobID int64) ([]StagedFile, error) {
	return s.stagedFiles(ctx, "processed_files", jobID)
}

func (s *Store) stagedFiles(ctx context.Context, table string, jobID int64) ([]StagedFile, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, path, size, mtime, md5 FROM `+table+` WHERE job_id = ? ORDER BY path`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var files []StagedFile
	for rows.Next() {
		file, err := scanStagedFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ReplaceAssigned moves consumed paths from the active set into the processed
// audit trail and adds the produced files, all in one transaction. Paths are
// reclassified, never forgotten: a consumed path must currently be assigned.
func (s *Store) ReplaceAssigned(ctx context.Context, jobID int64, consumed []string, produced []StagedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, path := range consumed {
		row := tx.QueryRowContext(
			ctx,
			`SELECT job_id, path, size, mtime, md5 FROM assigned_files WHERE job_id = ? AND path = ?`,
			jobID,
			path,
		)
		file, err := scanStagedFile(row)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrValidation, "queue", "replace",
				fmt.Sprintf("path %s is not assigned to job %d", path, jobID), nil)
		}
		if err != nil {
			return fmt.Errorf("read assigned file %s: %w", path, err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO processed_files (job_id, path, size, mtime, md5) VALUES (?, ?, ?, ?, ?)`,
			jobID,
			file.Path,
			file.Size,
			nullableTime(file.ModTime),
			nullableString(file.Checksum),
		); err != nil {
			return fmt.Errorf("record processed file %s: %w", path, err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM assigned_files WHERE job_id = ? AND path = ?`,
			jobID,
			path,
		); err != nil {
			return fmt.Errorf("remove assigned file %s: %w", path, err)
		}
	}

	for _, file := range produced {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO assigned_files (job_id, path, size, mtime, md5) VALUES (?, ?, ?, ?, ?)`,
			jobID,
			file.Path,
			file.Size,
			nullableTime(file.ModTime),
			nullableString(file.Checksum),
		); err != nil {
			return fmt.Errorf("insert produced file %s: %w", file.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// FileRecords returns finalized file records, optionally limited to one
// dataset prefix.
func (s *Store) FileRecords(ctx context.Context, prefix string) ([]FileRecord, error) {
	query := `SELECT path, storage, size, mtime, md5 FROM files`
	var args []any
	if prefix != "" {
		query += ` WHERE path LIKE ?`
		args = append(args, strings.TrimSuffix(prefix, "/")+"/%")
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var (
			record   FileRecord
			mtimeRaw sql.NullString
			md5sum   sql.NullString
		)
		if err := rows.Scan(&record.Path, &record.Storage, &record.Size, &mtimeRaw, &md5sum); err != nil {
			return nil, err
		}
		record.Checksum = md5sum.String
		if mtimeRaw.Valid {
			if mtime, err := parseTimeString(mtimeRaw.String); err == nil {
				record.ModTime = mtime
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// FileChecksum looks up the recorded digest for a path in the finalized file
// records, falling back to the processed-file audit trail. ok is false when
// the path appears in neither.
func (s *Store) FileChecksum(ctx context.Context, path string) (checksum string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT md5 FROM files WHERE path = ? LIMIT 1`, path)
	var md5sum sql.NullString
	scanErr := row.Scan(&md5sum)
	if scanErr == nil {
		return md5sum.String, true, nil
	}
	if !errors.Is(scanErr, sql.ErrNoRows) {
		return "", false, fmt.Errorf("lookup file record: %w", scanErr)
	}

	row = s.db.QueryRowContext(ctx, `SELECT md5 FROM processed_files WHERE path = ? LIMIT 1`, path)
	scanErr = row.Scan(&md5sum)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, fmt.Errorf("lookup processed file: %w", scanErr)
	}
	return md5sum.String, true, nil
}

// ListDatasets derives dataset keys from finalized file paths, filtered by
// subject and optional session. Paths follow the configured path rule:
// subject/session/dataset/...
func (s *Store) ListDatasets(ctx context.Context, subject, session string) ([]DatasetKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("query file paths: %w", err)
	}
	defer rows.Close()

	seen := map[DatasetKey]struct{}{}
	var keys []DatasetKey
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		parts := strings.Split(path, "/")
		if len(parts) < 4 {
			// Not deep enough to carry subject/session/dataset.
			continue
		}
		key := DatasetKey{Subject: parts[0], Session: parts[1], Dataset: parts[2]}
		if subject != "" && key.Subject != subject {
			continue
		}
		if session != "" && key.Session != session {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
