package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"labsync/internal/config"
	"labsync/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRequeueCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))

	return queueCmd
}

var statusTitle = cases.Title(language.English)

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if summary.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := [][]string{
					{statusTitle.String(string(queue.StatusWaiting)), strconv.Itoa(summary.Waiting)},
					{statusTitle.String(string(queue.StatusWorking)), strconv.Itoa(summary.Working)},
					{statusTitle.String(string(queue.StatusRunning)), strconv.Itoa(summary.Running)},
					{statusTitle.String(string(queue.StatusCompleted)), strconv.Itoa(summary.Completed)},
					{statusTitle.String(string(queue.StatusFailed)), strconv.Itoa(summary.Failed)},
					{"Total", strconv.Itoa(summary.Total)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, 1))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.JobFilter{}
			if statusFlag != "" {
				status, ok := queue.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filter.Status = status
			}
			if kindFlag != "" {
				filter.Kind = queue.Kind(strings.ToLower(kindFlag))
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					detail := job.Analysis
					if job.Kind == queue.KindUpload {
						detail = job.Storage
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Kind),
						colorizeStatus(string(job.Status), colorize),
						job.Host,
						detail,
						job.Dataset.String(),
						job.CreatedAt.Local().Format(time.DateTime),
					})
				}
				out := renderTable(
					[]string{"ID", "Kind", "Status", "Host", "Detail", "Dataset", "Created"},
					rows, 0)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status")
	cmd.Flags().StringVar(&kindFlag, "kind", "", "Filter by kind (upload or compute)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its assigned files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				files, err := store.AssignedFiles(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Kind)
				fmt.Fprintf(out, "  Status:   %s\n", colorizeStatus(string(job.Status), colorize))
				fmt.Fprintf(out, "  Host:     %s\n", valueOrDash(job.Host))
				fmt.Fprintf(out, "  Dataset:  %s\n", job.Dataset.String())
				if job.Kind == queue.KindUpload {
					fmt.Fprintf(out, "  Storage:  %s\n", valueOrDash(job.Storage))
				} else {
					fmt.Fprintf(out, "  Analysis: %s\n", valueOrDash(job.Analysis))
					fmt.Fprintf(out, "  Command:  %s\n", valueOrDash(job.Command))
				}
				if job.Log != "" {
					fmt.Fprintf(out, "  Log:      %s\n", job.Log)
				}
				fmt.Fprintf(out, "  Files (%d):\n", len(files))
				for _, file := range files {
					fmt.Fprintf(out, "    %s (%d bytes)\n", file.Path, file.Size)
				}
				return nil
			})
		},
	}
}

func newQueueRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue [job-id...]",
		Short: "Return claimed, non-terminal jobs to the waiting state",
		Long: "Resets jobs stuck in WORKING or RUNNING, typically after a " +
			"worker host died mid-job. With ids, only those jobs are reset; " +
			"without, every claimed non-terminal job is.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				count, err := store.Requeue(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d jobs\n", count)
				return nil
			})
		},
	}
}

func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete failed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				count, err := store.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed jobs\n", count)
				return nil
			})
		},
	}
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
