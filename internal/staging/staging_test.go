package staging_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"labsync/internal/fileutil"
	"labsync/internal/queue"
	"labsync/internal/services"
	"labsync/internal/staging"
	"labsync/internal/testsupport"
)

func writeLocal(t *testing.T, root, rel, contents string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir local dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write local file: %v", err)
	}
	return full
}

func TestCopyInStagesAndQueues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stager := staging.New(store, cfg, nil)
	ctx := context.Background()

	root := cfg.Paths.LocalRoots[0]
	writeLocal(t, root, "M1/20240101/ephys/probe0.ap.bin", "wideband")
	writeLocal(t, root, "M1/20240101/ephys/probe0.ap.meta", "nchan=384")

	id, err := stager.CopyIn(ctx, []string{filepath.Join(root, "M1")}, "", false)
	if err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Kind != queue.KindUpload || job.Storage != "data" {
		t.Fatalf("unexpected job: %+v", job)
	}

	files, err := store.AssignedFiles(ctx, id)
	if err != nil {
		t.Fatalf("AssignedFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 assigned files, got %+v", files)
	}
	for _, file := range files {
		if file.Checksum == "" {
			t.Fatalf("staged file missing digest: %+v", file)
		}
		stagedPath := filepath.Join(cfg.Paths.StagingRoot, filepath.FromSlash(file.Path))
		digest, err := fileutil.DigestFile(stagedPath)
		if err != nil {
			t.Fatalf("digest staged copy: %v", err)
		}
		if digest != file.Checksum {
			t.Fatalf("staged copy digest %s != recorded %s", digest, file.Checksum)
		}
	}
}

func TestCopyInRefusesOverwriteWithoutForce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stager := staging.New(store, cfg, nil)
	ctx := context.Background()

	root := cfg.Paths.LocalRoots[0]
	local := writeLocal(t, root, "M1/20240101/ephys/a.bin", "v1")
	if _, err := stager.CopyIn(ctx, []string{local}, "", false); err != nil {
		t.Fatalf("first CopyIn failed: %v", err)
	}

	if _, err := stager.CopyIn(ctx, []string{local}, "", false); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected refusal without force, got %v", err)
	}
	if _, err := stager.CopyIn(ctx, []string{local}, "", true); err != nil {
		t.Fatalf("forced CopyIn failed: %v", err)
	}
}

func TestCopyInRejectsPathOutsideRoots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stager := staging.New(store, cfg, nil)

	stray := filepath.Join(t.TempDir(), "stray.bin")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	_, err := stager.CopyIn(context.Background(), []string{stray}, "", false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCleanupDeletesOnlyVerifiedUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stager := staging.New(store, cfg, nil)
	ctx := context.Background()

	root := cfg.Paths.LocalRoots[0]
	uploaded := writeLocal(t, root, "M1/20240101/ephys/done.bin", "uploaded bytes")
	changed := writeLocal(t, root, "M1/20240101/ephys/changed.bin", "new bytes")
	unknown := writeLocal(t, root, "M1/20240101/ephys/unknown.bin", "never uploaded")

	uploadedDigest, err := fileutil.DigestFile(uploaded)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	seed := testsupport.MustCreateUploadJob(t, cfg, store, queue.StagedFile{Path: "seed.bin"})
	err = store.FinalizeUpload(ctx, seed, []queue.FileRecord{
		{Path: "M1/20240101/ephys/done.bin", Storage: "data", Checksum: uploadedDigest},
		{Path: "M1/20240101/ephys/changed.bin", Storage: "data", Checksum: "0123456789abcdef0123456789abcdef"},
	})
	if err != nil {
		t.Fatalf("seed records: %v", err)
	}

	deleted, kept, err := stager.Cleanup(ctx, []string{filepath.Join(root, "M1")}, false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != uploaded {
		t.Fatalf("deleted = %v, want only the verified upload", deleted)
	}
	if len(kept) != 2 {
		t.Fatalf("kept = %v, want changed and unknown files", kept)
	}
	if _, err := os.Stat(uploaded); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("verified file still on disk")
	}
	for _, path := range []string{changed, unknown} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s should have been kept: %v", path, err)
		}
	}
}

func TestCleanupDryRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stager := staging.New(store, cfg, nil)
	ctx := context.Background()

	root := cfg.Paths.LocalRoots[0]
	local := writeLocal(t, root, "M1/20240101/ephys/done.bin", "bytes")
	digest, err := fileutil.DigestFile(local)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	seed := testsupport.MustCreateUploadJob(t, cfg, store, queue.StagedFile{Path: "seed.bin"})
	err = store.FinalizeUpload(ctx, seed, []queue.FileRecord{
		{Path: "M1/20240101/ephys/done.bin", Storage: "data", Checksum: digest},
	})
	if err != nil {
		t.Fatalf("seed records: %v", err)
	}

	deleted, _, err := stager.Cleanup(ctx, []string{local}, true)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("dry run should report the candidate: %v", deleted)
	}
	if _, err := os.Stat(local); err != nil {
		t.Fatal("dry run must not remove files")
	}
}
