// Package compute turns "run analysis X for subject/session" requests into
// durably queued tasks and executes their algorithms on worker nodes.
//
// Analyses are registered at startup under a stable name. Submission
// deduplicates twice: an exact repeat of the full command string
// short-circuits to the existing task ids, and a dataset that already has a
// task for the same analysis and canonical parameter set reuses that task's
// id instead of queueing a second one.
package compute

import (
	"fmt"
	"sort"
	"strings"

	"labsync/internal/config"
	"labsync/internal/services"
)

// Factory builds an analysis with overrides merged over its defaults.
type Factory func(cfg *config.Config, overrides map[string]any) (Analysis, error)

// Registry maps analysis names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in analyses.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("spks", newSpksAnalysis)
	return r
}

// Register installs a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Resolve builds the named analysis. An unknown name fails with a message
// listing every registered analysis; there is no default.
func (r *Registry) Resolve(name string, cfg *config.Config, overrides map[string]any) (Analysis, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, services.Wrap(services.ErrUnknownAnalysis, "compute", "resolve",
			fmt.Sprintf("unknown analysis %q, known: %s", name, strings.Join(r.Names(), ", ")), nil)
	}
	return factory(cfg, overrides)
}

// Names returns the registered analysis names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
