package fetcher

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/domain/release"
	"github.com/oshokin/libpack/internal/logger"
)

const (
	// ArchiveFileMode is the permission of cached archives.
	ArchiveFileMode os.FileMode = 0o644
	// dirMode is used for cache directories.
	dirMode os.FileMode = 0o755
)

// Fetcher places verified archives at their cache paths.
type Fetcher struct {
	// layout computes cache paths.
	layout bundle.CacheLayout
	// source provides remote content.
	source Source
}

// New creates a Fetcher that caches under layout and downloads from source.
func New(layout bundle.CacheLayout, source Source) *Fetcher {
	return &Fetcher{
		layout: layout,
		source: source,
	}
}

// Fetch returns a verified artifact for variant of releaseVersion.
// A cached archive with the expected digest is returned without touching the
// source; anything else at the cache path is replaced.
func (f *Fetcher) Fetch(ctx context.Context, releaseVersion string, variant release.Variant) (*bundle.Artifact, error) {
	ctx = logger.WithKV(ctx, "version", releaseVersion, "platform", variant.PlatformTag)
	target := f.layout.ArchivePath(releaseVersion, variant)

	ok, actual, err := checksum.Matches(target, variant.Checksum)
	if err != nil {
		return nil, fmt.Errorf("check cached archive %s: %w", target, err)
	}

	if ok {
		logger.InfoKV(ctx, "Cached archive is up to date", "path", target)

		return verified(target, releaseVersion, variant), nil
	}

	if actual != "" {
		logger.WarnKV(ctx, "Cached archive does not match, downloading again",
			"path", target, "expected", variant.Checksum, "actual", actual)
	}

	partial, err := f.download(ctx, releaseVersion, variant)
	if partial != "" {
		defer os.Remove(partial) //nolint:errcheck // Best-effort cleanup of the partial file.
	}

	if err != nil {
		return nil, err
	}

	if err = install(partial, target, variant.Checksum); err != nil {
		return nil, fmt.Errorf("install %s: %w", target, err)
	}

	// The installed copy is verified again; only then is the artifact trusted.
	ok, actual, err = checksum.Matches(target, variant.Checksum)
	if err != nil {
		return nil, fmt.Errorf("verify installed archive %s: %w", target, err)
	}

	if !ok {
		return nil, corrupt(releaseVersion, variant, actual)
	}

	logger.InfoKV(ctx, "Downloaded archive", "path", target, "sha256", actual)

	return verified(target, releaseVersion, variant), nil
}

// download streams the variant into the partial directory while hashing it.
// It returns the partial file path whenever one was created.
func (f *Fetcher) download(ctx context.Context, releaseVersion string, variant release.Variant) (string, error) {
	partialDir := f.layout.PartialDir()
	if err := os.MkdirAll(partialDir, dirMode); err != nil {
		return "", fmt.Errorf("create partial directory: %w", err)
	}

	body, err := f.source.Open(ctx, releaseVersion, variant)
	if err != nil {
		return "", err
	}

	defer body.Close() //nolint:errcheck // Read-only body.

	tmp, err := os.CreateTemp(partialDir, variant.ArchiveFileName+".*.part")
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}

	var (
		partial = tmp.Name()
		hasher  = checksum.New()
	)

	if _, err = io.Copy(io.MultiWriter(tmp, hasher), body); err != nil {
		_ = tmp.Close()

		return partial, fmt.Errorf("download %s: %w", variant.ArchiveFileName, err)
	}

	if err = tmp.Close(); err != nil {
		return partial, fmt.Errorf("close partial file: %w", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !checksum.Equal(actual, variant.Checksum) {
		return partial, corrupt(releaseVersion, variant, actual)
	}

	return partial, nil
}

// install moves the verified partial file to target with go-update, which
// checks the digest once more before swapping the files.
func install(partial, target, expected string) error {
	sum, err := checksum.Decode(expected)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return fmt.Errorf("create variant directory: %w", err)
	}

	// go-update renames the existing target aside, so one must exist.
	if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(target) //nolint:gosec // Path comes from the cache layout.
		if createErr != nil {
			return createErr
		}

		if err = placeholder.Close(); err != nil {
			return err
		}
	}

	src, err := os.Open(partial) //nolint:gosec // Path was created by this package.
	if err != nil {
		return err
	}

	defer src.Close() //nolint:errcheck // Read-only file.

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: ArchiveFileMode,
		Checksum:   sum,
		Hash:       checksum.Hash,
	}

	if err = goupdate.Apply(src, options); err != nil {
		return err
	}

	oldFileName := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".old")
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// verified builds a trusted artifact.
func verified(path, releaseVersion string, variant release.Variant) *bundle.Artifact {
	return &bundle.Artifact{
		Path:     path,
		Version:  releaseVersion,
		Variant:  variant,
		Verified: true,
	}
}

// corrupt builds the error returned for a digest mismatch.
func corrupt(releaseVersion string, variant release.Variant, actual string) error {
	return fmt.Errorf("%w: version %s, platform %s, file %s: expected sha256 %s, got %s",
		bundle.ErrCorruptDownload, releaseVersion, variant.PlatformTag, variant.ArchiveFileName, variant.Checksum, actual)
}
