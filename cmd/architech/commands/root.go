package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Antoinesrvt/architech/pkg/telemetry"
)

var (
	// Global flags
	catalogDir string
	logLevel   string
	logFormat  string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "architech",
		Short: "Architech - project scaffolding engine",
		Long: `Architech generates ready-to-code projects from a catalog of framework
and module definitions.

A generation run scaffolds the framework with its own CLI, installs the
selected modules in dependency order, applies their file modifications, and
finishes with the framework's cleanup commands. Runs that fail on a flaky
command can be resumed without redoing completed work.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&catalogDir, "catalog", "catalog", "catalog directory containing frameworks.json and modules.json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newRecentCommand())

	return rootCmd
}

// newLogger builds the process logger from the global flags.
func newLogger() (zerolog.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
}

// defaultRecentDBPath places the recent-projects database under the user
// config directory.
func defaultRecentDBPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	dir := filepath.Join(base, "architech")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, "recent.db"), nil
}
