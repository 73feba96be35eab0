package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
	repo "github.com/oshokin/libpack/internal/repository/receipts"
)

const (
	// bundlesDir is the storage subdirectory holding archives.
	bundlesDir = "bundles"
	// archiveExt is the extension of stored archives.
	archiveExt = ".tar.gz"
	// storageFileMode is the permission of stored archives.
	storageFileMode os.FileMode = 0o644
	// storageDirMode is the permission of storage directories.
	storageDirMode os.FileMode = 0o755
)

// service stores bundles and keeps the index in sync.
// It is unexported to keep the transport decoupled from the implementation.
type service struct {
	// repo persists the index.
	repo repo.Repository
	// storage is the root directory of stored archives.
	storage string
	// index maps bundle names to receipts.
	index map[string]*bundle.Receipt
	// now returns the current time; replaced in tests.
	now func() time.Time
	// mu protects index and storage writes.
	mu sync.Mutex
}

// newService creates a service backed by the provided repository and storage directory.
func newService(ctx context.Context, repository repo.Repository, storage string) (*service, error) {
	s := &service{
		repo:    repository,
		storage: storage,
		index:   make(map[string]*bundle.Receipt),
		now:     time.Now,
	}

	if err := os.MkdirAll(filepath.Join(storage, bundlesDir), storageDirMode); err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	if repository == nil {
		return s, nil
	}

	index, err := repository.Load(ctx)

	switch {
	case err == nil:
		s.index = index
	case errors.Is(err, repo.ErrNotFound):
		// Start with an empty index.
	default:
		return nil, fmt.Errorf("load index: %w", err)
	}

	logger.InfoKV(ctx, "Registry index loaded", "bundles", len(s.index))

	return s, nil
}

// Accept verifies and stores an upload.
func (s *service) Accept(ctx context.Context, upload *bundle.Upload) (*bundle.Receipt, error) {
	if err := validateUpload(upload); err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "bundle", upload.Name)

	actual := checksum.Bytes(upload.Content)
	if !checksum.Equal(actual, upload.Checksum) {
		logger.WarnKV(ctx, "Rejected upload with wrong checksum", "expected", upload.Checksum, "actual", actual)

		return nil, fmt.Errorf("%w: %s: declared %s, received %s", bundle.ErrUploadChecksum, upload.Name, upload.Checksum, actual)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[upload.Name]; ok {
		if !checksum.Equal(existing.Checksum, actual) {
			return nil, fmt.Errorf("%w: %s has sha256 %s", bundle.ErrBundleExists, upload.Name, existing.Checksum)
		}

		logger.InfoKV(ctx, "Bundle already stored", "id", existing.ID)

		receipt := *existing
		receipt.AlreadyPublished = true

		return &receipt, nil
	}

	location := filepath.ToSlash(filepath.Join(bundlesDir, upload.Name+archiveExt))
	if err := s.store(location, upload.Content); err != nil {
		return nil, fmt.Errorf("store %s: %w", upload.Name, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	receipt := &bundle.Receipt{
		ID:          id.String(),
		Bundle:      upload.Name,
		Location:    location,
		Checksum:    actual,
		PublishedAt: s.now().UTC(),
	}

	s.index[upload.Name] = receipt

	if s.repo != nil {
		if err = s.repo.Save(ctx, s.index); err != nil {
			delete(s.index, upload.Name)
			logger.Errorf(ctx, "Failed to persist registry index: %v", err)

			return nil, fmt.Errorf("persist index: %w", err)
		}
	}

	logger.InfoKV(ctx, "Bundle stored", "id", receipt.ID, "location", location, "size", len(upload.Content))

	result := *receipt

	return &result, nil
}

// store writes content below the storage root through a temporary file.
func (s *service) store(location string, content []byte) error {
	target := filepath.Join(s.storage, filepath.FromSlash(location))

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // Already renamed on success.

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()

		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if err = os.Chmod(tmpPath, storageFileMode); err != nil {
		return err
	}

	return os.Rename(tmpPath, target)
}

// validateUpload rejects names that are not plain file names.
func validateUpload(upload *bundle.Upload) error {
	switch {
	case upload == nil:
		return fmt.Errorf("%w: upload is empty", bundle.ErrInvalidUpload)
	case upload.Name == "" || upload.Name == "." || upload.Name == "..":
		return fmt.Errorf("%w: bundle name %q", bundle.ErrInvalidUpload, upload.Name)
	case strings.ContainsAny(upload.Name, `/\`):
		return fmt.Errorf("%w: bundle name %q must not contain path separators", bundle.ErrInvalidUpload, upload.Name)
	case upload.Checksum == "":
		return fmt.Errorf("%w: %s: checksum is empty", bundle.ErrInvalidUpload, upload.Name)
	}

	return nil
}
