package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"labsync/internal/config"
	"labsync/internal/queue"
)

func newDatasetsCommand(ctx *commandContext) *cobra.Command {
	var subject string
	var session string

	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets known to the file catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				keys, err := store.ListDatasets(cmd.Context(), subject, session)
				if err != nil {
					return err
				}
				if len(keys) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No datasets found")
					return nil
				}

				rows := make([][]string, 0, len(keys))
				for _, key := range keys {
					records, err := store.FileRecords(cmd.Context(), key.Prefix())
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						key.Subject,
						key.Session,
						key.Dataset,
						strconv.Itoa(len(records)),
					})
				}
				out := renderTable([]string{"Subject", "Session", "Dataset", "Files"}, rows, 3)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "a", "", "Filter by subject")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Filter by session")
	return cmd
}
