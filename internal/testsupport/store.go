package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labsync/internal/config"
	"labsync/internal/queue"
)

// MustOpenStore opens a queue store against the test config and closes it on
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// StageFile writes a file with the given contents under the staging root and
// returns a StagedFile row describing it (checksum left for the caller).
func StageFile(t testing.TB, cfg *config.Config, relPath, contents string) queue.StagedFile {
	t.Helper()
	full := filepath.Join(cfg.Paths.StagingRoot, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir staging dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	info, err := os.Stat(full)
	if err != nil {
		t.Fatalf("stat staged file: %v", err)
	}
	return queue.StagedFile{
		Path:    relPath,
		Size:    info.Size(),
		ModTime: info.ModTime().UTC().Truncate(time.Second),
	}
}

// MustCreateUploadJob stages the given files and records an upload job.
func MustCreateUploadJob(t testing.TB, cfg *config.Config, store *queue.Store, files ...queue.StagedFile) int64 {
	t.Helper()
	id, err := store.CreateUploadJob(context.Background(), queue.UploadSpec{
		Storage: cfg.Upload.Storage,
		Files:   files,
	})
	if err != nil {
		t.Fatalf("create upload job: %v", err)
	}
	return id
}
