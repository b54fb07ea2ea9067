package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - sandboxed build file evaluator",
		Long: `Quarry evaluates build files in a restricted environment and emits the
registered rules as structured JSON.

Features:
  - Extension modules with per-instance caching and export control
  - Capability-scoped imports with safe module shims
  - Provenance tracking for files, configs and environment reads
  - Structured diagnostics in evaluation order`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A .env next to the working directory seeds the environment
			// visible to getenv and environ.
			if err := godotenv.Load(); err == nil {
				log.Debug().Msg("Loaded environment from .env")
			} else if !os.IsNotExist(err) {
				log.Warn().Err(err).Msg("Could not load .env")
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newEvalCommand())

	return rootCmd
}
