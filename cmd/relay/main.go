// Package main provides the relay command: a write relay that publishes events
// to a broker and records them in the store, and a read relay that consumes
// them back into a bounded read buffer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jnst/event-relay/internal/config"
	"github.com/jnst/event-relay/internal/logger"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay events between an HTTP API, a message broker and a store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			loaded, err := config.LoadConfig()
			if err != nil {
				return err
			}
			cfg = *loaded

			slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

			return nil
		},
	}

	root.AddCommand(
		newServeCmd(&cfg),
		newWriterCmd(&cfg),
		newReaderCmd(&cfg),
		newMigrateCmd(&cfg),
	)

	return root
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			slog.Info("shutdown signal received, stopping relay")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func main() {
	ctx, cancel := setupSignalHandling()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("relay failed", slog.String("error", err.Error()))
		cancel()
		os.Exit(exitCode)
	}

	cancel()
}
