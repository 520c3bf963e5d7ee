package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks references to jobs, datasets, or parameter sets that
	// do not exist. Fatal to the caller.
	ErrNotFound = errors.New("not found")
	// ErrChecksumMismatch marks data-integrity failures. The owning job must
	// fail without partial progress.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrNoMatchingFiles marks dataset lookups that matched no files.
	ErrNoMatchingFiles = errors.New("no matching files")
	// ErrUnknownAnalysis marks submissions naming an unregistered analysis.
	ErrUnknownAnalysis = errors.New("unknown analysis")
	// ErrTransformFailure marks errors raised inside a rule or algorithm.
	ErrTransformFailure = errors.New("transform failure")
	// ErrStorageFailure marks errors at the object-storage boundary.
	ErrStorageFailure = errors.New("storage failure")
	// ErrValidation marks caller input errors raised before a job exists.
	ErrValidation = errors.New("validation error")
)

// MaxJobLog bounds the free-text log column on job rows.
const MaxJobLog = 500

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// TruncateLog bounds a job log message to max bytes, keeping the tail. The
// most specific error detail is usually last, so the head is dropped.
func TruncateLog(message string, max int) string {
	message = strings.TrimSpace(message)
	if max <= 0 || len(message) <= max {
		return message
	}
	const marker = "..."
	if max <= len(marker) {
		return message[len(message)-max:]
	}
	return marker + message[len(message)-(max-len(marker)):]
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
