package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	api "github.com/oshokin/libpack/internal/api/grpc/registry"
	"github.com/oshokin/libpack/internal/logger"
	repository "github.com/oshokin/libpack/internal/repository/receipts"
)

const (
	// DefaultListenAddress is used when no address is given.
	DefaultListenAddress = "127.0.0.1:7070"
	// DefaultStorageDir is used when no storage directory is given.
	DefaultStorageDir = "registry"
	// IndexFilename is the index file inside the storage directory.
	IndexFilename = "index.json"
)

// Options controls the registry server process.
type Options struct {
	// ListenAddress is the TCP address to listen on.
	ListenAddress string
	// StorageDir receives archives and the index file.
	StorageDir string
	// MaxMessageSize bounds received requests; zero uses the transport default.
	MaxMessageSize int
}

// Run starts the gRPC registry and blocks until ctx is canceled or the server stops.
func Run(ctx context.Context, opts *Options) error {
	listenAddress := opts.ListenAddress
	if listenAddress == "" {
		listenAddress = DefaultListenAddress
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	return Serve(ctx, lis, opts)
}

// Serve runs the registry on an existing listener until ctx is canceled.
func Serve(ctx context.Context, lis net.Listener, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "registry")

	storage := opts.StorageDir
	if storage == "" {
		storage = DefaultStorageDir
	}

	maxMessageSize := opts.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = api.DefaultMaxMessageSize
	}

	// Initialize the index repository for registry persistence.
	repo := repository.NewFileRepository(filepath.Join(storage, IndexFilename))

	svc, err := newService(ctx, repo, storage)
	if err != nil {
		_ = lis.Close()

		return fmt.Errorf("initialise service: %w", err)
	}

	grpcServer := grpc.NewServer(grpc.MaxRecvMsgSize(maxMessageSize), grpc.MaxSendMsgSize(maxMessageSize))
	api.RegisterRegistryServer(grpcServer, api.NewServer(svc))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	logger.InfoKV(ctx, "Registry listening", "listen_address", lis.Addr().String(), "storage", storage)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down registry")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Registry stopped")

	return nil
}
