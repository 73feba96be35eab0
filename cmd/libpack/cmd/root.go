package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/libpack/internal/config"
	"github.com/oshokin/libpack/internal/service/pipeline"
	"github.com/oshokin/libpack/internal/version"
)

const (
	// flagIncludeOptional is the name of the optional bundle toggle.
	flagIncludeOptional = "include-optional"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string
	// logFormat overrides the configured log format.
	logFormat string
	// includeOptional enables optional platform bundles when the flag is set.
	includeOptional bool

	// rootCmd represents the base command for the packaging pipeline.
	rootCmd = &cobra.Command{
		Use:   "libpack",
		Short: "Package pre-built native library releases into platform bundles.",
		Long: `libpack fetches the published archives of a pinned library release, verifies
their checksums, extracts them, groups platform variants into bundles according
to the configured plan and publishes the bundles to a registry.

Each command runs the stages it depends on: publish → package → extract → fetch.
Optional platform bundles are enabled with --include-optional or the
LIBPACK_INCLUDE_OPTIONAL_PLATFORMS environment variable.`,
		SilenceUsage: true,
	}
)

// Execute runs the libpack CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runStage builds the RunE function of a pipeline command.
func runStage(stage pipeline.Stage) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options := &pipeline.Options{
			ConfigPath: configPath,
			Stage:      stage,
			LogLevel:   logLevel,
			LogFormat:  logFormat,
			Output:     cmd.OutOrStdout(),
		}

		// The flag wins over the environment only when given explicitly.
		if cmd.Flags().Changed(flagIncludeOptional) {
			options.IncludeOptional = &includeOptional
		}

		return pipeline.Run(ctx, options)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().
		BoolVar(&includeOptional, flagIncludeOptional, false, "build optional platform bundles")

	rootCmd.AddCommand(fetchCmd, extractCmd, packageCmd, publishCmd, registryCmd, initCmd)
}
