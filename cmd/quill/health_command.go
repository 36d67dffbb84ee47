package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/store"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the workflow database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, _ *slog.Logger, st *store.Store) error {
				health, err := st.CheckHealth(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database: %s\n", health.DBPath)
				if !health.DatabaseExists {
					fmt.Fprintln(out, "Database file does not exist yet; it is created on first use.")
					return nil
				}
				fmt.Fprintf(out, "Readable: %v\n", health.DatabaseReadable)
				fmt.Fprintf(out, "Integrity: %v\n", health.IntegrityCheck)
				if len(health.MissingTables) > 0 {
					fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(health.MissingTables, ", "))
				}
				if err != nil {
					return fmt.Errorf("health check: %w", err)
				}
				return nil
			})
		},
	}
}
