// Package extractor unpacks verified tar.gz archives into their per-variant
// cache directories.
package extractor

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
)

const (
	// MaxFileSize caps the size of a single extracted file.
	MaxFileSize int64 = 1 << 30

	// dirMode is used for extracted directories.
	dirMode os.FileMode = 0o755
	// permMask keeps only permission bits from archive headers.
	permMask os.FileMode = 0o777
)

var (
	// errUnsafePath is returned for members that would land outside the target directory.
	errUnsafePath = errors.New("archive member escapes the target directory")
	// errFileTooLarge is returned for members above MaxFileSize.
	errFileTooLarge = errors.New("archive member is too large")
)

// Extractor writes archive members below a variant directory.
type Extractor struct {
	// layout computes target directories.
	layout bundle.CacheLayout
}

// New creates an Extractor for layout.
func New(layout bundle.CacheLayout) *Extractor {
	return &Extractor{layout: layout}
}

// Extract unpacks artifact into its variant directory and returns the tree.
// Existing files are overwritten one by one; nothing is deleted first.
func (e *Extractor) Extract(ctx context.Context, artifact *bundle.Artifact) (*bundle.Tree, error) {
	if artifact == nil || !artifact.Verified {
		return nil, fmt.Errorf("%w: extract requires a verified artifact", bundle.ErrPreconditionViolated)
	}

	ctx = logger.WithKV(ctx, "version", artifact.Version, "platform", artifact.Variant.PlatformTag)
	root := e.layout.VariantDir(artifact.Version, artifact.Variant)

	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}

	archivePath, err := filepath.Abs(artifact.Path)
	if err != nil {
		return nil, err
	}

	count, err := unpack(ctx, artifact.Path, root, archivePath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", artifact.Path, err)
	}

	logger.InfoKV(ctx, "Extracted archive", "path", root, "files", count)

	return &bundle.Tree{
		Root:        root,
		ArchivePath: artifact.Path,
		Version:     artifact.Version,
		Variant:     artifact.Variant,
	}, nil
}

// unpack writes the regular files and directories of the archive at path
// below root and returns the number of files written.
func unpack(ctx context.Context, path, root, archivePath string) (int, error) {
	file, err := os.Open(path) //nolint:gosec // Path comes from the cache layout.
	if err != nil {
		return 0, err
	}

	defer file.Close() //nolint:errcheck // Read-only file.

	gz, err := gzip.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream: %w", err)
	}

	defer gz.Close() //nolint:errcheck // Read-only stream.

	var (
		tr    = tar.NewReader(gz)
		count int
	)

	for {
		if err = ctx.Err(); err != nil {
			return count, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}

		if err != nil {
			return count, fmt.Errorf("read tar header: %w", err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return count, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, dirMode); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if target == archivePath {
				logger.WarnKV(ctx, "Skipping member that would overwrite the archive", "member", hdr.Name)

				continue
			}

			if err = writeFile(target, tr, hdr); err != nil {
				return count, fmt.Errorf("write %s: %w", hdr.Name, err)
			}

			count++
		default:
			logger.DebugKV(ctx, "Skipping non-regular member", "member", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

// safeJoin resolves name below root and rejects anything that escapes it.
func safeJoin(root, name string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	target := filepath.Join(absRoot, filepath.FromSlash(name))

	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}

	return target, nil
}

// writeFile overwrites target with the current member.
func writeFile(target string, r io.Reader, hdr *tar.Header) error {
	if hdr.Size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", errFileTooLarge, hdr.Size)
	}

	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}

	mode := os.FileMode(hdr.Mode) & permMask //nolint:gosec // Masked to permission bits.
	if mode == 0 {
		mode = 0o644
	}

	// Members are written to a sibling temp file and renamed over target, so a
	// read-only file or a symlink left by an earlier run is replaced, not opened.
	out, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}

	tmp := out.Name()

	if _, err = io.Copy(out, io.LimitReader(r, MaxFileSize)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err = out.Close(); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	if err = os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	if err = os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	return nil
}
