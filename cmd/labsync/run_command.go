package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"labsync/internal/compute"
	"labsync/internal/config"
	"labsync/internal/queue"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var subject string
	var session string
	var paramFlags []string

	cmd := &cobra.Command{
		Use:   "run <analysis>",
		Short: "Queue an analysis for matching datasets",
		Long: "Queues one compute task per dataset matching the subject/session " +
			"selection. Resubmitting with identical parameters returns the " +
			"existing task ids instead of queueing duplicates.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseParameterFlags(paramFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				dispatcher := compute.NewDispatcher(store, compute.NewRegistry(), cfg, ctx.ensureLogger())
				ids, err := dispatcher.Submit(cmd.Context(), args[0], subject, session,
					overrides, fullCommand())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued task %d\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "a", "", "Subject to select datasets for")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session to select datasets for")
	cmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "Parameter override as key=value, repeatable")
	return cmd
}

// fullCommand reconstructs the invocation for literal duplicate detection.
// The match is on the exact string, so reordering flags queues a new task.
func fullCommand() string {
	return strings.Join(os.Args, " ")
}

// parseParameterFlags turns key=value pairs into a parameter override map.
// Values parse as JSON where possible so numbers and booleans keep their
// types through canonical serialization; anything else stays a string.
func parseParameterFlags(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(flags))
	for _, flag := range flags {
		key, value, ok := strings.Cut(flag, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", flag)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		overrides[key] = parsed
	}
	return overrides, nil
}
