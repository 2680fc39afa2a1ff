package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brightport/boardbridge/cli"
	"github.com/brightport/boardbridge/dispatch"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "boardbridge",
	Short: "BoardBridge protocol server",
	Long:  "BoardBridge exposes a remote project-management API to agent clients over streaming, stdio, and webhook transports.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("boardbridge version %s\n", version))
	dispatch.ServerVersion = version

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewStdioCmd())
}
