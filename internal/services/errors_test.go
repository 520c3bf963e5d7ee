package services_test

import (
	"errors"
	"strings"
	"testing"

	"labsync/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("disk on fire")
	err := services.Wrap(services.ErrStorageFailure, "uploader", "put", "a/b.bin", base)
	if !errors.Is(err, services.ErrStorageFailure) {
		t.Fatalf("expected storage failure marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
	for _, want := range []string{"uploader", "put", "a/b.bin", "disk on fire"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "queue", "claim", "job 7", nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found marker, got %v", err)
	}
}

func TestTruncateLogKeepsTail(t *testing.T) {
	msg := strings.Repeat("x", 600) + "specific detail"
	got := services.TruncateLog(msg, services.MaxJobLog)
	if len(got) != services.MaxJobLog {
		t.Fatalf("expected %d bytes, got %d", services.MaxJobLog, len(got))
	}
	if !strings.HasSuffix(got, "specific detail") {
		t.Fatalf("expected tail preserved, got %q", got[len(got)-30:])
	}
	if !strings.HasPrefix(got, "...") {
		t.Fatalf("expected truncation marker prefix, got %q", got[:10])
	}
}

func TestTruncateLogShortMessage(t *testing.T) {
	if got := services.TruncateLog("  short  ", 100); got != "short" {
		t.Fatalf("expected trimmed message, got %q", got)
	}
}
