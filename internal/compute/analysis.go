package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"labsync/internal/queue"
	"labsync/internal/services"
)

// Analysis is one runnable algorithm.
type Analysis interface {
	// Name is the registry key, also stored on the task row.
	Name() string
	// FileFilters are substring patterns an input file path must contain.
	// A file matches when every filter appears in its path.
	FileFilters() []string
	// Parameters returns the effective parameter map after overrides.
	Parameters() map[string]any
	// Algorithm names the concrete implementation recorded on the
	// parameter set, e.g. a specific sorter version.
	Algorithm() string
	// FindDatasets lists the dataset keys this analysis would run on for
	// the given subject/session selection.
	FindDatasets(ctx context.Context, store *queue.Store, subject, session string) ([]queue.DatasetKey, error)
	// Compute runs the algorithm for one claimed task. Input files have
	// been placed under workdir before the call.
	Compute(ctx context.Context, job *queue.Job, files []queue.StagedFile, workdir string) error
}

// CanonicalParameters serializes params deterministically. Map keys sort in
// the output, so two equal dicts always produce byte-identical strings and
// the parameter-set dedup never splits on ordering.
func CanonicalParameters(params map[string]any) (string, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialize parameters: %w", err)
	}
	return string(payload), nil
}

// mergeParameters overlays overrides onto defaults, rejecting keys the
// analysis does not define. A typo in a parameter name must not silently
// queue a task with the default value.
func mergeParameters(defaults, overrides map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(defaults))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range overrides {
		if _, ok := defaults[key]; !ok {
			return nil, services.Wrap(services.ErrValidation, "compute", "parameters",
				fmt.Sprintf("unknown parameter %q", key), nil)
		}
		merged[key] = value
	}
	return merged, nil
}

// matchesFilters reports whether path contains every filter substring.
func matchesFilters(path string, filters []string) bool {
	for _, filter := range filters {
		if filter == "" {
			continue
		}
		if !strings.Contains(path, filter) {
			return false
		}
	}
	return true
}
