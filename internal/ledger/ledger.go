// Package ledger maintains the authoritative record of which staged files
// belong to a job and whether their on-disk contents still match the digests
// recorded when they were staged.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"labsync/internal/checksum"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/services"
)

// Ledger verifies and rewrites the assigned-file set of a job.
type Ledger struct {
	store       *queue.Store
	sums        *checksum.Service
	stagingRoot string
	logger      *slog.Logger
}

// New returns a ledger over the given store and staging root.
func New(store *queue.Store, sums *checksum.Service, stagingRoot string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ledger{store: store, sums: sums, stagingRoot: stagingRoot, logger: logger}
}

// StagedPath resolves a job-relative path to its location under the staging
// root.
func (l *Ledger) StagedPath(rel string) string {
	return filepath.Join(l.stagingRoot, filepath.FromSlash(rel))
}

// Verify recomputes the digest of every file assigned to jobID and compares
// against the digests recorded at staging time. Files staged without a digest
// get one computed and recorded now. Any divergence fails the whole job with
// ErrChecksumMismatch; a partially trusted file set is worse than none.
func (l *Ledger) Verify(ctx context.Context, jobID int64) ([]queue.StagedFile, error) {
	files, err := l.store.AssignedFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrNoMatchingFiles, "ledger", "verify",
			fmt.Sprintf("job %d has no assigned files", jobID), nil)
	}

	paths := make([]string, len(files))
	for i, file := range files {
		paths[i] = l.StagedPath(file.Path)
	}
	sums, err := l.sums.SumAll(ctx, paths)
	if err != nil {
		return nil, services.Wrap(services.ErrChecksumMismatch, "ledger", "verify",
			fmt.Sprintf("job %d digest pass failed", jobID), err)
	}

	var mismatches []checksum.Mismatch
	for i := range files {
		if files[i].Checksum == "" {
			files[i].Checksum = sums[i]
			continue
		}
		if files[i].Checksum != sums[i] {
			mismatches = append(mismatches, checksum.Mismatch{
				Path:     files[i].Path,
				Expected: files[i].Checksum,
				Actual:   sums[i],
			})
		}
	}
	if len(mismatches) > 0 {
		for _, m := range mismatches {
			l.logger.Error("staged file diverged from recorded digest",
				slog.Int64(logging.FieldJobID, jobID),
				slog.String(logging.FieldPath, m.Path),
				slog.String("expected", m.Expected),
				slog.String("actual", m.Actual))
		}
		return nil, services.Wrap(services.ErrChecksumMismatch, "ledger", "verify",
			fmt.Sprintf("job %d: %d of %d files diverged, first %s", jobID, len(mismatches), len(files), mismatches[0].Path), nil)
	}

	l.logger.Debug("assigned files verified",
		slog.Int64(logging.FieldJobID, jobID),
		slog.Int("files", len(files)))
	return files, nil
}

// Replace swaps consumed paths for produced ones in the job's assigned set.
// Produced paths are job-relative; each is stat'd and digested before the
// store transaction runs, so a half-written output fails the swap up front.
// Consumed originals move to the processed record with their staged digests
// intact.
func (l *Ledger) Replace(ctx context.Context, jobID int64, consumed, produced []string) ([]queue.StagedFile, error) {
	rows := make([]queue.StagedFile, 0, len(produced))
	for _, rel := range produced {
		full := l.StagedPath(rel)
		info, err := os.Stat(full)
		if err != nil {
			return nil, services.Wrap(services.ErrTransformFailure, "ledger", "replace",
				fmt.Sprintf("job %d produced file missing: %s", jobID, rel), err)
		}
		sum, err := l.sums.Sum(full)
		if err != nil {
			return nil, services.Wrap(services.ErrTransformFailure, "ledger", "replace",
				fmt.Sprintf("job %d digest produced file %s", jobID, rel), err)
		}
		rows = append(rows, queue.StagedFile{
			JobID:    jobID,
			Path:     rel,
			Size:     info.Size(),
			ModTime:  info.ModTime().UTC().Truncate(time.Second),
			Checksum: sum,
		})
	}

	if err := l.store.ReplaceAssigned(ctx, jobID, consumed, rows); err != nil {
		return nil, err
	}

	l.logger.Info("assigned file set rewritten",
		slog.Int64(logging.FieldJobID, jobID),
		slog.Int("consumed", len(consumed)),
		slog.Int("produced", len(rows)))

	files, err := l.store.AssignedFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return files, nil
}
