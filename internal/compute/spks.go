package compute

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"labsync/internal/config"
	"labsync/internal/queue"
	"labsync/internal/services"
)

// spksAnalysis runs spike sorting on wideband ephys recordings through an
// external sorter binary.
type spksAnalysis struct {
	cfg    *config.Config
	params map[string]any
}

func spksDefaults() map[string]any {
	return map[string]any{
		"algorithm_name":    "spks_kilosort2.5",
		"motion_correction": true,
		"low_pass":          300,
		"high_pass":         13000,
		"thresholds":        []any{9, 3},
	}
}

func newSpksAnalysis(cfg *config.Config, overrides map[string]any) (Analysis, error) {
	params, err := mergeParameters(spksDefaults(), overrides)
	if err != nil {
		return nil, err
	}
	return &spksAnalysis{cfg: cfg, params: params}, nil
}

func (a *spksAnalysis) Name() string { return "spks" }

func (a *spksAnalysis) FileFilters() []string { return []string{".ap."} }

func (a *spksAnalysis) Parameters() map[string]any { return a.params }

func (a *spksAnalysis) Algorithm() string {
	name, _ := a.params["algorithm_name"].(string)
	return name
}

// FindDatasets selects ephys datasets for the subject/session filter. Spike
// sorting only applies to recordings laid out under an ephys dataset.
func (a *spksAnalysis) FindDatasets(ctx context.Context, store *queue.Store, subject, session string) ([]queue.DatasetKey, error) {
	keys, err := store.ListDatasets(ctx, subject, session)
	if err != nil {
		return nil, err
	}
	var out []queue.DatasetKey
	for _, key := range keys {
		if strings.Contains(key.Dataset, "ephys") {
			out = append(out, key)
		}
	}
	return out, nil
}

// Compute invokes the configured sorter on the staged recording directory.
// The sorter writes its results next to the inputs; collecting them into an
// upload job is the caller's responsibility.
func (a *spksAnalysis) Compute(ctx context.Context, job *queue.Job, files []queue.StagedFile, workdir string) error {
	command := a.cfg.Compute.SorterCommand
	if command == "" {
		return services.Wrap(services.ErrValidation, "compute", "spks",
			"no sorter_command configured", nil)
	}

	args := []string{"--probe-dir", workdir}
	if motion, ok := a.params["motion_correction"].(bool); ok && motion {
		args = append(args, "--motion-correction")
	}
	args = append(args,
		"--low-pass", fmt.Sprint(a.params["low_pass"]),
		"--high-pass", fmt.Sprint(a.params["high_pass"]),
	)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workdir
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrTransformFailure, "compute", "spks",
			fmt.Sprintf("sorter failed on job %d: %s", job.ID, services.TruncateLog(detail, services.MaxJobLog)), err)
	}
	return nil
}
