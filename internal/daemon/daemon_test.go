package daemon_test

import (
	"context"
	"os"
	"testing"
	"time"

	"labsync/internal/checksum"
	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/daemon"
	"labsync/internal/ledger"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/rules"
	"labsync/internal/testsupport"
	"labsync/internal/worker"
)

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *daemon.Daemon {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	led := ledger.New(store, checksum.New(2), cfg.Paths.StagingRoot, nil)
	engine := rules.NewEngine(led, nil, rules.EphysCompression())
	runner := worker.NewRunner(store, led, engine, compute.NewRegistry(), cfg, nil)
	poller := worker.NewPoller(store, runner, 20*time.Millisecond, nil)
	d, err := daemon.New(cfg, store, poller, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d
}

func TestStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon should report running")
	}
	d.Stop()

	status, err = d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should report stopped")
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first := newDaemon(t, cfg, store)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop()

	second := newDaemon(t, cfg, store)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance must not acquire the lock")
	}
}

func TestDaemonProcessesQueuedWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	staged := testsupport.StageFile(t, cfg, "a/b.bin", "payload")
	jobID := testsupport.MustCreateUploadJob(t, cfg, store, staged)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	deadline := time.After(5 * time.Second)
	for {
		_, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			// Job consumed: the upload finalized.
			return
		}
		select {
		case <-deadline:
			t.Fatal("daemon never processed the queued upload")
		case <-time.After(25 * time.Millisecond):
		}
	}
}
