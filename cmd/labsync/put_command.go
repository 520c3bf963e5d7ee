package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"labsync/internal/config"
	"labsync/internal/queue"
	"labsync/internal/staging"
)

func newPutCommand(ctx *commandContext) *cobra.Command {
	var storageName string
	var force bool

	cmd := &cobra.Command{
		Use:   "put <path>...",
		Short: "Stage local data and queue an upload job",
		Long: "Copies files or directories from a local root into the staging " +
			"tree with digest verification and queues one upload job covering them.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stager := staging.New(store, cfg, ctx.ensureLogger())
				id, err := stager.CopyIn(cmd.Context(), args, storageName, force)
				if err != nil {
					return err
				}
				files, err := store.AssignedFiles(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued upload job %d with %d files\n", id, len(files))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&storageName, "storage", "", "Destination storage name (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite files already staged")
	return cmd
}

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean <path>...",
		Short: "Delete local files whose content matches an uploaded record",
		Long: "Removes local copies only when their digest matches a finalized " +
			"file record; anything unrecorded or modified since upload is kept.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				stager := staging.New(store, cfg, ctx.ensureLogger())
				deleted, kept, err := stager.Cleanup(cmd.Context(), args, dryRun)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				verb := "Deleted"
				if dryRun {
					verb = "Would delete"
				}
				for _, path := range deleted {
					fmt.Fprintf(out, "%s %s\n", verb, path)
				}
				fmt.Fprintf(out, "%s %d files, kept %d\n", verb, len(deleted), len(kept))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without deleting")
	return cmd
}
