package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brightport/boardbridge/config"
	"github.com/brightport/boardbridge/stdio"
)

// NewStdioCmd creates the "stdio" subcommand: the pipe transport with
// one implicit session for the process lifetime.
func NewStdioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve the protocol over stdin/stdout",
		RunE:  runStdio,
	}
	cmd.Flags().String("config", "", "Path to boardbridge.yaml")
	return cmd
}

func runStdio(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	logger := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(exitConfig, "loading configuration: %v", err)
	}

	dispatcher, _, scheduler, err := buildCore(cfg, logger, false)
	if err != nil {
		return err
	}
	defer scheduler.Close()

	transport := stdio.New(stdio.Config{
		Dispatcher: dispatcher,
		Reader:     os.Stdin,
		Writer:     os.Stdout,
		Logger:     logger.With("component", "stdio"),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("boardbridge serving on stdio")
	if err := transport.Run(ctx); err != nil &&
		!errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "stdio transport: %v", err)
	}
	return nil
}
