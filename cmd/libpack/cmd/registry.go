package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/libpack/internal/logger"
	"github.com/oshokin/libpack/internal/service/registry"
)

var (
	// storageDir receives archives accepted by the local registry.
	storageDir string
	// maxMessageSize bounds the size of a pushed bundle.
	maxMessageSize int

	// registryCmd groups the local registry commands.
	registryCmd = &cobra.Command{
		Use:   "registry",
		Short: "Local bundle registry.",
	}

	// registryServeCmd runs the local gRPC registry.
	registryServeCmd = &cobra.Command{
		Use:   "serve [listen-address]",
		Short: "Run a local gRPC bundle registry.",
		Long: `Starts a gRPC registry that accepts bundles pushed by "libpack publish" when the
configuration uses a registry of kind grpc. Archives are stored below the storage
directory together with an index file. The listen address defaults to
127.0.0.1:7070.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := logger.Configure(logLevel, logFormat); err != nil {
				return err
			}

			// Use listen address argument if provided, otherwise rely on the default.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &registry.Options{
				ListenAddress:  listenAddress,
				StorageDir:     storageDir,
				MaxMessageSize: maxMessageSize,
			}

			return registry.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	registryServeCmd.Flags().
		StringVarP(&storageDir, "storage", "s", registry.DefaultStorageDir, "directory receiving pushed bundles")
	registryServeCmd.Flags().
		IntVar(&maxMessageSize, "max-message-size", 0, "largest accepted bundle in bytes (0 uses the default)")

	registryCmd.AddCommand(registryServeCmd)
}
