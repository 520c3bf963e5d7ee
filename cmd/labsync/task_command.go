package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"labsync/internal/config"
	"labsync/internal/queue"
	"labsync/internal/worker"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "task <job-id>",
		Short: "Claim and execute one queued job by id",
		Long: "The per-node entry point batch schedulers invoke. Losing the " +
			"claim race to another worker exits cleanly; execution failures are " +
			"recorded on the job as FAILED.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				runner := ctx.buildRunner(cfg, store)
				return runner.Run(cmd.Context(), id)
			})
		},
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "upload [job-id]",
		Short: "Execute a queued upload job, or drain all waiting uploads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				runner := ctx.buildRunner(cfg, store)
				if len(args) == 1 {
					id, err := strconv.ParseInt(args[0], 10, 64)
					if err != nil {
						return fmt.Errorf("invalid job id %q", args[0])
					}
					return runner.Run(cmd.Context(), id)
				}
				for {
					job, err := store.NextWaiting(cmd.Context(), queue.KindUpload)
					if err != nil {
						return err
					}
					if job == nil {
						return nil
					}
					if err := runner.Run(cmd.Context(), job.ID); err != nil {
						return err
					}
				}
			})
		},
	}
}

func newWorkCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process waiting jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				runner := ctx.buildRunner(cfg, store)
				interval := time.Duration(cfg.Worker.PollInterval) * time.Second
				poller := worker.NewPoller(store, runner, interval, ctx.ensureLogger())
				if once {
					return poller.PollOnce(cmd.Context())
				}
				return poller.Run(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Drain the queue once and exit")
	return cmd
}
