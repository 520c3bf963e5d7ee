// Package staging moves raw data from acquisition machines into the staging
// tree and queues upload jobs for it. The reverse direction, deleting local
// copies, only happens when the content digest provably matches a finalized
// file record.
package staging

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"labsync/internal/config"
	"labsync/internal/fileutil"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/services"
)

// Stager copies files into staging and creates the covering upload job.
type Stager struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
}

// New wires a stager over the queue store.
func New(store *queue.Store, cfg *config.Config, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stager{store: store, cfg: cfg, logger: logger}
}

// Relativize strips the local root prefix from an absolute path, yielding
// the job-relative path files keep through staging, upload, and storage.
func (s *Stager) Relativize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for _, root := range s.cfg.Paths.LocalRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		return filepath.ToSlash(rel), nil
	}
	return "", services.Wrap(services.ErrValidation, "staging", "relativize",
		fmt.Sprintf("%s is not under any configured local root", path), nil)
}

// Expand walks the given paths, resolving directories to their contained
// files. The result is sorted for stable job file ordering.
func (s *Stager) Expand(paths []string) ([]string, error) {
	var out []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, services.Wrap(services.ErrNotFound, "staging", "expand", path, err)
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				out = append(out, entry)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CopyIn stages the given local files and queues one upload job covering all
// of them. Copies are digest-verified and run with bounded parallelism.
// An already staged path fails the whole batch unless force is set; silently
// overwriting a pending upload's file would corrupt its recorded digests.
func (s *Stager) CopyIn(ctx context.Context, paths []string, storageName string, force bool) (int64, error) {
	expanded, err := s.Expand(paths)
	if err != nil {
		return 0, err
	}
	if len(expanded) == 0 {
		return 0, services.Wrap(services.ErrNoMatchingFiles, "staging", "copy-in",
			"no files to stage", nil)
	}
	if storageName == "" {
		storageName = s.cfg.Upload.Storage
	}

	type entry struct {
		local string
		rel   string
	}
	entries := make([]entry, len(expanded))
	for i, local := range expanded {
		rel, err := s.Relativize(local)
		if err != nil {
			return 0, err
		}
		dst := filepath.Join(s.cfg.Paths.StagingRoot, filepath.FromSlash(rel))
		if !force {
			if _, err := os.Stat(dst); err == nil {
				return 0, services.Wrap(services.ErrValidation, "staging", "copy-in",
					fmt.Sprintf("%s already staged (use force to overwrite)", rel), nil)
			}
		}
		entries[i] = entry{local: local, rel: rel}
	}

	staged := make([]queue.StagedFile, len(entries))
	if err := s.forEach(ctx, len(entries), func(i int) error {
		dst := filepath.Join(s.cfg.Paths.StagingRoot, filepath.FromSlash(entries[i].rel))
		digest, err := fileutil.CopyFileVerified(entries[i].local, dst)
		if err != nil {
			return fmt.Errorf("stage %s: %w", entries[i].rel, err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			return err
		}
		staged[i] = queue.StagedFile{
			Path:     entries[i].rel,
			Size:     info.Size(),
			ModTime:  info.ModTime().UTC().Truncate(time.Second),
			Checksum: digest,
		}
		return nil
	}); err != nil {
		return 0, err
	}

	id, err := s.store.CreateUploadJob(ctx, queue.UploadSpec{
		Storage: storageName,
		Files:   staged,
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("upload job staged",
		slog.Int64(logging.FieldJobID, id),
		slog.String(logging.FieldStorage, storageName),
		slog.Int("files", len(staged)))
	return id, nil
}

// Cleanup deletes local files whose digest matches a finalized file record.
// Files with no record, or whose bytes differ from what was uploaded, are
// kept and reported. With dryRun set nothing is removed.
func (s *Stager) Cleanup(ctx context.Context, paths []string, dryRun bool) (deleted, kept []string, err error) {
	expanded, err := s.Expand(paths)
	if err != nil {
		return nil, nil, err
	}

	for _, local := range expanded {
		if err := ctx.Err(); err != nil {
			return deleted, kept, err
		}
		rel, err := s.Relativize(local)
		if err != nil {
			kept = append(kept, local)
			continue
		}
		recorded, ok, err := s.store.FileChecksum(ctx, rel)
		if err != nil {
			return deleted, kept, err
		}
		if !ok || recorded == "" {
			kept = append(kept, local)
			continue
		}
		digest, err := fileutil.DigestFile(local)
		if err != nil {
			return deleted, kept, err
		}
		if digest != recorded {
			s.logger.Warn("local file differs from uploaded record, keeping",
				slog.String(logging.FieldPath, rel))
			kept = append(kept, local)
			continue
		}
		if !dryRun {
			if err := os.Remove(local); err != nil {
				return deleted, kept, fmt.Errorf("remove %s: %w", local, err)
			}
		}
		deleted = append(deleted, local)
	}
	return deleted, kept, nil
}

// forEach runs fn(0..n-1) across a bounded pool, failing fast on the first
// error.
func (s *Stager) forEach(ctx context.Context, n int, fn func(i int) error) error {
	parallelism := s.cfg.Upload.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if parallelism > n {
		parallelism = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	indexes := make(chan int)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := fn(i); err != nil {
					errs <- err
					cancel()
					return
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
		}
	}
	close(indexes)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
