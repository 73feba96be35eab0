package registry

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	api "github.com/oshokin/libpack/internal/api/grpc/registry"
	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	repository "github.com/oshokin/libpack/internal/repository/receipts"
)

// memoryRepository keeps the index in memory.
type memoryRepository struct {
	mu      sync.Mutex
	index   map[string]*bundle.Receipt
	saveErr error
	saves   int
}

func (r *memoryRepository) Load(_ context.Context) (map[string]*bundle.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index == nil {
		return nil, repository.ErrNotFound
	}

	clone := make(map[string]*bundle.Receipt, len(r.index))
	for name, receipt := range r.index {
		copied := *receipt
		clone[name] = &copied
	}

	return clone, nil
}

func (r *memoryRepository) Save(_ context.Context, index map[string]*bundle.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}

	r.saves++
	r.index = make(map[string]*bundle.Receipt, len(index))

	for name, receipt := range index {
		copied := *receipt
		r.index[name] = &copied
	}

	return nil
}

func upload(name string, content []byte) *bundle.Upload {
	return &bundle.Upload{Name: name, Version: "1.0.0", Checksum: checksum.Bytes(content), Content: content}
}

// TestAccept_StoresAndIndexes verifies a fresh upload lands on disk and in the index.
func TestAccept_StoresAndIndexes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := t.TempDir()
	repo := &memoryRepository{}

	svc, err := newService(ctx, repo, storage)
	require.NoError(t, err)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	content := []byte("archive bytes")

	receipt, err := svc.Accept(ctx, upload("libdemo-1.0.0", content))
	require.NoError(t, err)
	require.False(t, receipt.AlreadyPublished)
	require.NotEmpty(t, receipt.ID)
	require.Equal(t, "bundles/libdemo-1.0.0.tar.gz", receipt.Location)
	require.Equal(t, checksum.Bytes(content), receipt.Checksum)
	require.Equal(t, fixed, receipt.PublishedAt)

	stored, err := os.ReadFile(filepath.Join(storage, "bundles", "libdemo-1.0.0.tar.gz"))
	require.NoError(t, err)
	require.Equal(t, content, stored)

	require.Equal(t, 1, repo.saves)
	require.Contains(t, repo.index, "libdemo-1.0.0")
}

// TestAccept_Republish covers identical and conflicting re-uploads.
func TestAccept_Republish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &memoryRepository{}

	svc, err := newService(ctx, repo, t.TempDir())
	require.NoError(t, err)

	first, err := svc.Accept(ctx, upload("libdemo-1.0.0", []byte("v1")))
	require.NoError(t, err)

	again, err := svc.Accept(ctx, upload("libdemo-1.0.0", []byte("v1")))
	require.NoError(t, err)
	require.True(t, again.AlreadyPublished)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 1, repo.saves)

	_, err = svc.Accept(ctx, upload("libdemo-1.0.0", []byte("v2")))
	require.ErrorIs(t, err, bundle.ErrBundleExists)
}

// TestAccept_Rejects covers malformed uploads.
func TestAccept_Rejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	svc, err := newService(ctx, &memoryRepository{}, t.TempDir())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, nil)
	require.ErrorIs(t, err, bundle.ErrInvalidUpload)

	_, err = svc.Accept(ctx, upload("../escape", []byte("x")))
	require.ErrorIs(t, err, bundle.ErrInvalidUpload)

	_, err = svc.Accept(ctx, upload("", []byte("x")))
	require.ErrorIs(t, err, bundle.ErrInvalidUpload)

	bad := upload("libdemo-1.0.0", []byte("x"))
	bad.Checksum = checksum.Bytes([]byte("y"))

	_, err = svc.Accept(ctx, bad)
	require.ErrorIs(t, err, bundle.ErrUploadChecksum)
}

// TestAccept_PersistFailureRollsBack keeps the index unchanged when saving fails.
func TestAccept_PersistFailureRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &memoryRepository{saveErr: errors.New("disk full")}

	svc, err := newService(ctx, repo, t.TempDir())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, upload("libdemo-1.0.0", []byte("v1")))
	require.ErrorContains(t, err, "disk full")
	require.Empty(t, svc.index)
}

// TestNewService_LoadsIndex restores previously accepted bundles.
func TestNewService_LoadsIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	content := []byte("v1")
	repo := &memoryRepository{index: map[string]*bundle.Receipt{
		"libdemo-1.0.0": {ID: "id-1", Bundle: "libdemo-1.0.0", Checksum: checksum.Bytes(content)},
	}}

	svc, err := newService(ctx, repo, t.TempDir())
	require.NoError(t, err)

	receipt, err := svc.Accept(ctx, upload("libdemo-1.0.0", content))
	require.NoError(t, err)
	require.True(t, receipt.AlreadyPublished)
	require.Equal(t, "id-1", receipt.ID)
}

// TestServe_EndToEnd runs the registry on a loopback listener and pushes through the client.
func TestServe_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	storage := t.TempDir()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)

	go func() {
		served <- Serve(ctx, lis, &Options{StorageDir: storage})
	}()

	client, err := api.Dial(ctx, lis.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool {
		return client.Check(ctx) == nil
	}, 5*time.Second, 20*time.Millisecond)

	archive := filepath.Join(t.TempDir(), "libdemo-1.0.0.tar.gz")
	content := []byte("archive")
	require.NoError(t, os.WriteFile(archive, content, 0o600))

	packaged := &bundle.Packaged{
		Bundle:      &bundle.Bundle{Name: "libdemo-1.0.0"},
		ArchivePath: archive,
		Checksum:    checksum.Bytes(content),
		Size:        int64(len(content)),
	}

	receipt, err := client.Push(ctx, packaged)
	require.NoError(t, err)
	require.False(t, receipt.AlreadyPublished)

	receipt, err = client.Push(ctx, packaged)
	require.NoError(t, err)
	require.True(t, receipt.AlreadyPublished)

	// The index survives on disk.
	index, err := repository.NewFileRepository(filepath.Join(storage, IndexFilename)).Load(ctx)
	require.NoError(t, err)
	require.Contains(t, index, "libdemo-1.0.0")

	cancel()
	require.NoError(t, <-served)
}
