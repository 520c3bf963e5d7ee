package checksum_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"labsync/internal/checksum"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSumKnownDigest(t *testing.T) {
	svc := checksum.New(2)
	path := writeFile(t, t.TempDir(), "empty.bin", "")
	sum, err := svc.Sum(path)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	// md5 of the empty string
	if sum != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("unexpected digest %s", sum)
	}
}

func TestSumAllPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	svc := checksum.New(4)
	paths := []string{
		writeFile(t, dir, "a.bin", "alpha"),
		writeFile(t, dir, "b.bin", "beta"),
		writeFile(t, dir, "c.bin", "gamma"),
	}
	sums, err := svc.SumAll(context.Background(), paths)
	if err != nil {
		t.Fatalf("SumAll failed: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 sums, got %d", len(sums))
	}
	for i, path := range paths {
		want, err := svc.Sum(path)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		if sums[i] != want {
			t.Fatalf("sum %d out of order: got %s want %s", i, sums[i], want)
		}
	}
}

func TestSumAllFailsBatchOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	svc := checksum.New(2)
	paths := []string{
		writeFile(t, dir, "a.bin", "alpha"),
		filepath.Join(dir, "missing.bin"),
	}
	if _, err := svc.SumAll(context.Background(), paths); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCompareDetectsSingleByteChange(t *testing.T) {
	dir := t.TempDir()
	svc := checksum.New(2)
	good := writeFile(t, dir, "good.bin", "payload")
	bad := writeFile(t, dir, "bad.bin", "payload")

	expected, err := svc.SumAll(context.Background(), []string{good, bad})
	if err != nil {
		t.Fatalf("SumAll failed: %v", err)
	}

	if err := os.WriteFile(bad, []byte("paJload"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	ok, mismatches, err := svc.Compare(context.Background(), []string{good, bad}, expected)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch to be detected")
	}
	if len(mismatches) != 1 || mismatches[0].Path != bad {
		t.Fatalf("unexpected mismatches: %+v", mismatches)
	}
}

func TestCompareLengthMismatch(t *testing.T) {
	svc := checksum.New(1)
	if _, _, err := svc.Compare(context.Background(), []string{"a"}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
