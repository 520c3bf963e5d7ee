// Package checksum computes and compares content digests for file sets.
//
// Digests are MD5 hex strings, matching the checksums recorded on file rows.
// Batch operations fan out across a bounded worker pool and collect every
// result before returning; callers never see partial batches.
package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// Mismatch describes one file whose digest differed from the expected value.
type Mismatch struct {
	Path     string
	Expected string
	Actual   string
}

// Service computes digests with bounded parallelism.
type Service struct {
	workers int
}

// New returns a Service running at most workers concurrent digests.
func New(workers int) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{workers: workers}
}

// Sum returns the MD5 hex digest of the file at path.
func (s *Service) Sum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SumAll digests every path in parallel and returns results in input order.
// The first error cancels outstanding work and fails the whole batch.
func (s *Service) SumAll(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		index int
		sum   string
		err   error
	}

	jobs := make(chan int)
	results := make(chan result, len(paths))

	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(paths) {
		workers = len(paths)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				sum, err := s.Sum(paths[idx])
				select {
				case results <- result{index: idx, sum: sum, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	sums := make([]string, len(paths))
	received := 0
	for res := range results {
		if res.err != nil {
			cancel()
			return nil, res.err
		}
		sums[res.index] = res.sum
		received++
		if received == len(paths) {
			break
		}
	}
	if received != len(paths) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("checksum batch incomplete: %d of %d", received, len(paths))
	}
	return sums, nil
}

// Compare digests every path and compares positionally against expected.
// It reports whether the whole batch matched, along with each mismatch.
func (s *Service) Compare(ctx context.Context, paths, expected []string) (bool, []Mismatch, error) {
	if len(paths) != len(expected) {
		return false, nil, fmt.Errorf("checksum compare: %d paths but %d expected digests", len(paths), len(expected))
	}
	sums, err := s.SumAll(ctx, paths)
	if err != nil {
		return false, nil, err
	}
	var mismatches []Mismatch
	for i, sum := range sums {
		if sum != expected[i] {
			mismatches = append(mismatches, Mismatch{Path: paths[i], Expected: expected[i], Actual: sum})
		}
	}
	return len(mismatches) == 0, mismatches, nil
}
