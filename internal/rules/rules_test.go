package rules_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"labsync/internal/checksum"
	"labsync/internal/ledger"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/services"
	"labsync/internal/testsupport"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.ap.bin", "M1/20240101/ephys/probe0.ap.bin", true},
		{"*.ap.bin", "M1/20240101/ephys/probe0.ap.meta", false},
		{"ephys*", "M1/20240101/ephys/probe0.ap.bin", true},
		{"ephys*.bin", "M1/20240101/ephys/probe0.ap.bin", true},
		{"ephys*.bin", "M1/20240101/behavior/cam.avi", false},
		{"*", "anything/at/all", true},
		{"exact.txt", "notes/exact.txt", true},
		{"exact.txt", "notes/other.txt", false},
		// Fragments must appear in order, not just anywhere.
		{"ephys*20240101", "M1/20240101/ephys/a.bin", false},
	}
	for _, tc := range cases {
		if got := rules.Matches(tc.pattern, tc.path); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestApplyIdentityWhenNoRuleMatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	led := ledger.New(store, checksum.New(4), cfg.Paths.StagingRoot, nil)
	engine := rules.NewEngine(led, nil, rules.EphysCompression())
	ctx := context.Background()

	staged := testsupport.StageFile(t, cfg, "M1/20240101/behavior/cam.avi", "frames")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	files, ruleName, err := engine.Apply(ctx, job, []queue.StagedFile{staged})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if ruleName != "" {
		t.Fatalf("expected identity rule, got %q", ruleName)
	}
	if len(files) != 1 || files[0].Path != staged.Path {
		t.Fatalf("identity transform changed the file set: %+v", files)
	}
}

func TestApplyCompressesRecordings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sums := checksum.New(4)
	led := ledger.New(store, sums, cfg.Paths.StagingRoot, nil)
	engine := rules.NewEngine(led, nil, rules.EphysCompression())
	ctx := context.Background()

	raw := bytes.Repeat([]byte("spike band payload "), 4096)
	staged := testsupport.StageFile(t, cfg, "M1/20240101/ephys/probe0.ap.bin", string(raw))
	digest, err := sums.Sum(filepath.Join(cfg.Paths.StagingRoot, staged.Path))
	if err != nil {
		t.Fatalf("digest raw file: %v", err)
	}
	staged.Checksum = digest
	meta := testsupport.StageFile(t, cfg, "M1/20240101/ephys/probe0.ap.meta", "nchan=384")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged, meta)
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	files, ruleName, err := engine.Apply(ctx, job, []queue.StagedFile{staged, meta})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if ruleName != "ephys-compression" {
		t.Fatalf("rule name = %q", ruleName)
	}

	active := map[string]bool{}
	for _, file := range files {
		active[file.Path] = true
	}
	for _, want := range []string{
		"M1/20240101/ephys/probe0.ap.cbin",
		"M1/20240101/ephys/probe0.ap.ch",
		"M1/20240101/ephys/probe0.ap.meta",
	} {
		if !active[want] {
			t.Fatalf("active set missing %s: %v", want, active)
		}
	}
	if active["M1/20240101/ephys/probe0.ap.bin"] {
		t.Fatal("consumed raw file still in the active set")
	}

	processed, err := store.ProcessedFiles(ctx, jobID)
	if err != nil {
		t.Fatalf("ProcessedFiles failed: %v", err)
	}
	if len(processed) != 1 || processed[0].Path != staged.Path || processed[0].Checksum != digest {
		t.Fatalf("processed record lost the original digest: %+v", processed)
	}

	// The compressed stream must inflate back to the original bytes.
	cbin, err := os.Open(filepath.Join(cfg.Paths.StagingRoot, "M1/20240101/ephys/probe0.ap.cbin"))
	if err != nil {
		t.Fatalf("open compressed file: %v", err)
	}
	defer cbin.Close()
	gz, err := gzip.NewReader(cbin)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	gz.Multistream(true)
	inflated, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if !bytes.Equal(inflated, raw) {
		t.Fatalf("roundtrip mismatch: %d bytes in, %d bytes out", len(raw), len(inflated))
	}
}

func TestApplyWrapsTransformErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	led := ledger.New(store, checksum.New(4), cfg.Paths.StagingRoot, nil)
	broken := rules.Rule{
		Name:    "broken",
		Pattern: "*",
		Transform: func(ctx context.Context, env rules.Env, files []queue.StagedFile) ([]string, []string, error) {
			return nil, nil, errors.New("transform exploded")
		},
	}
	engine := rules.NewEngine(led, nil, broken)
	ctx := context.Background()

	staged := testsupport.StageFile(t, cfg, "a.bin", "data")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	_, _, err = engine.Apply(ctx, job, []queue.StagedFile{staged})
	if !errors.Is(err, services.ErrTransformFailure) {
		t.Fatalf("expected transform failure, got %v", err)
	}
}

func TestPostUploadHook(t *testing.T) {
	var got queue.DatasetKey
	hooked := rules.Rule{
		Name:    "hooked",
		Pattern: "*",
		PostUpload: func(ctx context.Context, key queue.DatasetKey) error {
			got = key
			return nil
		},
	}
	engine := rules.NewEngine(nil, nil, hooked)

	key := queue.DatasetKey{Subject: "M1", Session: "20240101", Dataset: "ephys"}
	if err := engine.PostUpload(context.Background(), "hooked", key); err != nil {
		t.Fatalf("PostUpload failed: %v", err)
	}
	if got != key {
		t.Fatalf("hook saw %+v, want %+v", got, key)
	}
	// Identity uploads skip hooks entirely.
	got = queue.DatasetKey{}
	if err := engine.PostUpload(context.Background(), "", key); err != nil {
		t.Fatalf("PostUpload identity failed: %v", err)
	}
	if !got.IsZero() {
		t.Fatal("identity rule must not trigger hooks")
	}
}
