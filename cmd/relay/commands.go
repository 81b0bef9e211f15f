package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jnst/event-relay/internal/config"
	"github.com/jnst/event-relay/internal/repository"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the write and read relays in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, roleWriter|roleReader)
		},
	}
}

func newWriterCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "writer",
		Short: "Run the write relay: POST /api/write publishes and stores events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, roleWriter)
		},
	}
}

func newReaderCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reader",
		Short: "Run the read relay: consume events into the read buffer and store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, roleReader)
		},
	}
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := repository.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}

			slog.Info("migrations applied")

			return nil
		},
	}
}
