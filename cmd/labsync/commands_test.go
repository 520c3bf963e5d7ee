package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	// A second init must not clobber the existing file.
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("config init should refuse to overwrite")
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "staging_root")
	if strings.Contains(out, "secret_key = \"hunter2\"") {
		t.Fatal("secret leaked into config show output")
	}
}

func TestPutThenQueueLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	raw := filepath.Join(env.localRoot, "M1", "20240101", "ephys", "probe0.ap.meta")
	if err := os.MkdirAll(filepath.Dir(raw), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(raw, []byte("nchan=384"), 0o644); err != nil {
		t.Fatalf("write raw file: %v", err)
	}

	out, err := runCLI(t, env, "put", filepath.Join(env.localRoot, "M1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	requireContains(t, out, "Queued upload job 1")

	out, err = runCLI(t, env, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "WAITING")
	requireContains(t, out, "upload")

	out, err = runCLI(t, env, "queue", "show", "1")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "M1/20240101/ephys/probe0.ap.meta")

	// Drain the queue and confirm the upload finalized.
	if _, err := runCLI(t, env, "work", "--once"); err != nil {
		t.Fatalf("work --once: %v", err)
	}
	out, err = runCLI(t, env, "queue", "status")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queue is empty")

	out, err = runCLI(t, env, "datasets")
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	requireContains(t, out, "M1")
	requireContains(t, out, "ephys")
}

func TestRunUnknownAnalysisListsKnown(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "run", "nope", "-a", "M1")
	if err == nil {
		t.Fatal("unknown analysis must fail")
	}
	if !strings.Contains(err.Error(), "spks") {
		t.Fatalf("error should list known analyses: %v", err)
	}
}

func TestQueueRequeueRejectsBadID(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "queue", "requeue", "not-a-number"); err == nil {
		t.Fatal("bad id must fail")
	}
}

func TestUploadDrainsWaitingJobs(t *testing.T) {
	env := setupCLITestEnv(t)

	raw := filepath.Join(env.localRoot, "M2", "20240202", "ephys", "notes.txt")
	if err := os.MkdirAll(filepath.Dir(raw), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(raw, []byte("session notes"), 0o644); err != nil {
		t.Fatalf("write raw file: %v", err)
	}

	if _, err := runCLI(t, env, "put", filepath.Join(env.localRoot, "M2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := runCLI(t, env, "upload"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out, err := runCLI(t, env, "queue", "status")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestVersionRunsWithoutConfig(t *testing.T) {
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(buf.String(), "labsync") {
		t.Fatalf("unexpected version output: %q", buf.String())
	}
}
