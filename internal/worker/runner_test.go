package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labsync/internal/checksum"
	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/ledger"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/services"
	"labsync/internal/testsupport"
	"labsync/internal/worker"
)

func newRunner(t *testing.T, cfg *config.Config, store *queue.Store) *worker.Runner {
	t.Helper()
	led := ledger.New(store, checksum.New(4), cfg.Paths.StagingRoot, nil)
	engine := rules.NewEngine(led, nil, rules.EphysCompression())
	return worker.NewRunner(store, led, engine, compute.NewRegistry(), cfg, nil)
}

func TestRunUploadEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	ctx := context.Background()

	sums := checksum.New(1)
	staged := testsupport.StageFile(t, cfg, "a/b.bin", "")
	digest, err := sums.Sum(filepath.Join(cfg.Paths.StagingRoot, staged.Path))
	if err != nil {
		t.Fatalf("digest staged file: %v", err)
	}
	staged.Checksum = digest
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)

	if err := runner.Run(ctx, jobID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The job row is consumed on success.
	if _, err := store.GetJob(ctx, jobID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected job gone after finalize, got %v", err)
	}

	records, err := store.FileRecords(ctx, "")
	if err != nil {
		t.Fatalf("FileRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].Path != "a/b.bin" || records[0].Checksum != digest {
		t.Fatalf("unexpected file records: %+v", records)
	}

	stored := filepath.Join(cfg.Storage["data"].Folder, "a", "b.bin")
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
}

func TestRunUploadAppliesCompressionRule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	ctx := context.Background()

	staged := testsupport.StageFile(t, cfg, "M1/20240101/ephys/probe0.ap.bin", "wideband samples")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)

	if err := runner.Run(ctx, jobID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	records, err := store.FileRecords(ctx, "M1/20240101/ephys")
	if err != nil {
		t.Fatalf("FileRecords failed: %v", err)
	}
	got := map[string]bool{}
	for _, record := range records {
		got[record.Path] = true
	}
	if !got["M1/20240101/ephys/probe0.ap.cbin"] || !got["M1/20240101/ephys/probe0.ap.ch"] {
		t.Fatalf("compressed outputs not finalized: %v", got)
	}
	if got["M1/20240101/ephys/probe0.ap.bin"] {
		t.Fatal("raw recording must not be uploaded")
	}

	// The raw original survives in the processed audit trail.
	sum, ok, err := store.FileChecksum(ctx, "M1/20240101/ephys/probe0.ap.bin")
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	if !ok || sum == "" {
		t.Fatal("consumed raw file left no checksum record")
	}
}

func TestRunFailsJobOnChecksumMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	ctx := context.Background()

	staged := testsupport.StageFile(t, cfg, "a/b.bin", "good bytes")
	staged.Checksum = "00000000000000000000000000000000"
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)

	if err := runner.Run(ctx, jobID); err != nil {
		t.Fatalf("Run should record the failure, not return it: %v", err)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if job.Log == "" {
		t.Fatal("failure detail missing from job log")
	}

	// Integrity failure means no partial progress.
	records, err := store.FileRecords(ctx, "")
	if err != nil {
		t.Fatalf("FileRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("failed job leaked file records: %+v", records)
	}
}

func TestRunAlreadyTakenIsBenign(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	ctx := context.Background()

	staged := testsupport.StageFile(t, cfg, "a/b.bin", "data")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)
	if _, err := store.Claim(ctx, jobID, "other-host"); err != nil {
		t.Fatalf("pre-claim failed: %v", err)
	}

	if err := runner.Run(ctx, jobID); err != nil {
		t.Fatalf("losing the claim race must not error: %v", err)
	}
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Host != "other-host" || job.Status != queue.StatusWorking {
		t.Fatalf("second runner disturbed the claim: %+v", job)
	}
}

func TestRunMissingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)

	if err := runner.Run(context.Background(), 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRunComputeTaskEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	dispatcher := compute.NewDispatcher(store, compute.NewRegistry(), cfg, nil)
	ctx := context.Background()

	// An uploaded recording, still present in staging.
	staged := testsupport.StageFile(t, cfg, "M1/20240101/ephys/probe0.ap.cbin", "compressed")
	seed := testsupport.MustCreateUploadJob(t, cfg, store, queue.StagedFile{Path: "seed.bin"})
	err := store.FinalizeUpload(ctx, seed, []queue.FileRecord{{
		Path: staged.Path, Storage: cfg.Upload.Storage, Checksum: "cafe",
	}})
	if err != nil {
		t.Fatalf("seed file records: %v", err)
	}

	ids, err := dispatcher.Submit(ctx, "spks", "M1", "20240101", nil, "labsync run spks -a M1 -s 20240101")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one task, got %v", ids)
	}

	if err := runner.Run(ctx, ids[0]); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	job, err := store.GetJob(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s (log %q), want COMPLETED", job.Status, job.Log)
	}
}

func TestRunComputeSorterFailureMarksFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	// A sorter that always fails with a diagnostic on stderr.
	broken := filepath.Join(t.TempDir(), "broken-sort")
	script := "#!/bin/sh\necho 'probe geometry missing' >&2\nexit 3\n"
	if err := os.WriteFile(broken, []byte(script), 0o755); err != nil {
		t.Fatalf("write failing sorter: %v", err)
	}
	cfg.Compute.SorterCommand = broken

	runner := newRunner(t, cfg, store)
	dispatcher := compute.NewDispatcher(store, compute.NewRegistry(), cfg, nil)
	ctx := context.Background()

	testsupport.StageFile(t, cfg, "M1/20240101/ephys/probe0.ap.cbin", "compressed")
	seed := testsupport.MustCreateUploadJob(t, cfg, store, queue.StagedFile{Path: "seed.bin"})
	err := store.FinalizeUpload(ctx, seed, []queue.FileRecord{{
		Path: "M1/20240101/ephys/probe0.ap.cbin", Storage: cfg.Upload.Storage,
	}})
	if err != nil {
		t.Fatalf("seed file records: %v", err)
	}

	ids, err := dispatcher.Submit(ctx, "spks", "M1", "20240101", nil, "labsync run spks -a M1 -s 20240101")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := runner.Run(ctx, ids[0]); err != nil {
		t.Fatalf("Run should record the failure, not return it: %v", err)
	}
	job, err := store.GetJob(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if !strings.Contains(job.Log, "probe geometry missing") {
		t.Fatalf("sorter diagnostic missing from log: %q", job.Log)
	}
}

func TestRunComputeMissingInputsWithoutStorageGet(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Compute.AllowStorageGet = false
	store := testsupport.MustOpenStore(t, cfg)
	runner := newRunner(t, cfg, store)
	dispatcher := compute.NewDispatcher(store, compute.NewRegistry(), cfg, nil)
	ctx := context.Background()

	// Recorded in storage but absent from the staging tree.
	seed := testsupport.MustCreateUploadJob(t, cfg, store, queue.StagedFile{Path: "seed.bin"})
	err := store.FinalizeUpload(ctx, seed, []queue.FileRecord{{
		Path: "M1/20240101/ephys/probe0.ap.cbin", Storage: cfg.Upload.Storage,
	}})
	if err != nil {
		t.Fatalf("seed file records: %v", err)
	}

	ids, err := dispatcher.Submit(ctx, "spks", "M1", "20240101", nil, "labsync run spks -a M1 -s 20240101")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := runner.Run(ctx, ids[0]); err != nil {
		t.Fatalf("Run should record the failure, not return it: %v", err)
	}
	job, err := store.GetJob(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
}
