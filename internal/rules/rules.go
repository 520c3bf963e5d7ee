// Package rules selects and applies at most one named transformation to a
// job's staged files before upload. When no rule pattern matches the file set
// the identity rule applies and the files pass through untouched.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"labsync/internal/ledger"
	"labsync/internal/logging"
	"labsync/internal/queue"
	"labsync/internal/services"
)

// Env gives transforms access to the staging tree without handing them the
// whole ledger.
type Env interface {
	StagedPath(rel string) string
}

// Transform rewrites part of a job's file set. It returns the job-relative
// paths it consumed and produced; the engine records the swap through the
// ledger afterwards.
type Transform func(ctx context.Context, env Env, files []queue.StagedFile) (consumed, produced []string, err error)

// PostUpload runs dataset-specific ingestion after a successful upload.
type PostUpload func(ctx context.Context, key queue.DatasetKey) error

// Rule pairs a path pattern with the transformation to run when it matches.
type Rule struct {
	Name       string
	Pattern    string
	Transform  Transform
	PostUpload PostUpload
}

// Matches reports whether path satisfies pattern. A pattern holds at most one
// wildcard: it is split on '*' and every non-empty fragment must appear as a
// substring of path, in order.
func Matches(pattern, path string) bool {
	rest := path
	for _, fragment := range strings.Split(pattern, "*") {
		if fragment == "" {
			continue
		}
		idx := strings.Index(rest, fragment)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(fragment):]
	}
	return true
}

// Engine holds the ordered rule table.
type Engine struct {
	rules  []Rule
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewEngine builds an engine over the given rule table. Order matters: the
// first rule with at least one matching path wins.
func NewEngine(led *ledger.Ledger, logger *slog.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{rules: rules, ledger: led, logger: logger}
}

// Match returns the first rule matching any path in files, or false when the
// identity rule applies.
func (e *Engine) Match(files []queue.StagedFile) (Rule, bool) {
	for _, rule := range e.rules {
		for _, file := range files {
			if Matches(rule.Pattern, file.Path) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}

// Apply runs the matching rule against the job's files and records the
// resulting file swap through the ledger. It returns the active file set
// after transformation and the name of the rule applied, empty for identity.
// Failures never escape untyped: anything a transform raises comes back as
// ErrTransformFailure so the runner can fail the job instead of crashing.
func (e *Engine) Apply(ctx context.Context, job *queue.Job, files []queue.StagedFile) ([]queue.StagedFile, string, error) {
	rule, ok := e.Match(files)
	if !ok {
		e.logger.Debug("no rule matched, identity transform",
			slog.Int64(logging.FieldJobID, job.ID),
			slog.Int("files", len(files)))
		return files, "", nil
	}

	e.logger.Info("applying rule",
		slog.Int64(logging.FieldJobID, job.ID),
		slog.String(logging.FieldRule, rule.Name),
		slog.Int("files", len(files)))

	consumed, produced, err := rule.Transform(ctx, e.ledger, files)
	if err != nil {
		return nil, rule.Name, services.Wrap(services.ErrTransformFailure, "rules", "apply",
			fmt.Sprintf("rule %s on job %d", rule.Name, job.ID), err)
	}
	if len(consumed) == 0 && len(produced) == 0 {
		return files, rule.Name, nil
	}

	updated, err := e.ledger.Replace(ctx, job.ID, consumed, produced)
	if err != nil {
		return nil, rule.Name, err
	}
	return updated, rule.Name, nil
}

// PostUpload runs the named rule's post-upload hook, a no-op when the rule
// has none or the identity rule applied.
func (e *Engine) PostUpload(ctx context.Context, ruleName string, key queue.DatasetKey) error {
	if ruleName == "" {
		return nil
	}
	for _, rule := range e.rules {
		if rule.Name != ruleName || rule.PostUpload == nil {
			continue
		}
		if err := rule.PostUpload(ctx, key); err != nil {
			return services.Wrap(services.ErrTransformFailure, "rules", "post-upload",
				fmt.Sprintf("rule %s for %s", ruleName, key.String()), err)
		}
	}
	return nil
}
