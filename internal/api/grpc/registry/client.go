package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
)

// DefaultCallTimeout bounds a single RPC when no timeout is configured.
const DefaultCallTimeout = 5 * time.Minute

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errNotServing is returned when the health check reports a non-serving registry.
	errNotServing = errors.New("registry is not serving")
	// errReceiptMismatch is returned when the registry records a different digest.
	errReceiptMismatch = errors.New("registry recorded a different checksum")
)

// Client wraps a gRPC connection to the registry service.
type Client struct {
	// conn is the underlying gRPC connection to the registry.
	conn *grpc.ClientConn
	// health is the standard health-check client.
	health healthpb.HealthClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// maxMessageSize bounds the Push request size.
	maxMessageSize int
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithMaxMessageSize sets the largest request the client sends.
func WithMaxMessageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.maxMessageSize = size
		}
	}
}

// Dial establishes a gRPC connection to the registry.
// Note: this uses insecure transport credentials; the registry is meant for
// local dry runs and trusted networks.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout:    DefaultCallTimeout,
		maxMessageSize: DefaultMaxMessageSize,
	}

	for _, opt := range opts {
		opt(client)
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(client.maxMessageSize),
			grpc.MaxCallRecvMsgSize(client.maxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial registry: %w", err)
	}

	client.conn = conn
	client.health = healthpb.NewHealthClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Check asks the registry's health service whether the registry is serving.
func (c *Client) Check(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.health.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}

	return nil
}

// Push checks registry health and uploads a packaged bundle.
func (c *Client) Push(ctx context.Context, packaged *bundle.Packaged) (*bundle.Receipt, error) {
	if err := c.Check(ctx); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(packaged.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	request, err := toProtoUpload(&bundle.Upload{
		Name:     packaged.Bundle.Name,
		Version:  packaged.Bundle.Metadata.PipelineVersion,
		Label:    packaged.Bundle.Label,
		Checksum: packaged.Checksum,
		Content:  content,
	})
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	reply := new(structpb.Struct)
	if err = c.conn.Invoke(callCtx, PushMethod, request, reply); err != nil {
		return nil, fmt.Errorf("push %s: %w", packaged.Bundle.Name, err)
	}

	receipt, err := toDomainReceipt(reply)
	if err != nil {
		return nil, fmt.Errorf("decode push reply: %w", err)
	}

	if !checksum.Equal(receipt.Checksum, packaged.Checksum) {
		return nil, fmt.Errorf("%w: %s: expected %s, registry has %s",
			errReceiptMismatch, packaged.Bundle.Name, packaged.Checksum, receipt.Checksum)
	}

	return receipt, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
