package packager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
)

const (
	// ArchiveExt is the extension of bundle archives.
	ArchiveExt = ".tar.gz"
	// ChecksumExt is appended to the archive name for the digest sidecar.
	ChecksumExt = ".sha256"
	// MetadataFilename is the metadata document stored in every bundle.
	MetadataFilename = "bundle.yaml"

	// DefaultFileMode is the mode of non-executable bundle members and outputs.
	DefaultFileMode os.FileMode = 0o644
	// ExecutableFileMode is the mode of members that had any execute bit set.
	ExecutableFileMode os.FileMode = 0o755
)

// epoch is the modification time of every archive member.
//
//nolint:gochecknoglobals // Fixed timestamp for reproducible archives.
var epoch = time.Unix(0, 0).UTC()

// FileSigner signs a file and returns the signature path.
type FileSigner interface {
	SignFile(path string) (string, error)
}

// Metadata is the bundle.yaml document.
type Metadata struct {
	// Name is the bundle name.
	Name string `yaml:"name"`
	// Library is the upstream library name.
	Library string `yaml:"library"`
	// LibraryVersion is the upstream release version.
	LibraryVersion string `yaml:"library_version"`
	// Version is the pipeline version the bundle is published under.
	Version string `yaml:"version"`
	// Label is the public platform label; empty for the fallback bundle.
	Label string `yaml:"label,omitempty"`
	// Platforms lists the merged platform tags.
	Platforms []string `yaml:"platforms"`
	// Files describes every member except the metadata itself.
	Files []FileMetadata `yaml:"files"`
}

// FileMetadata describes one bundle member.
type FileMetadata struct {
	// Path is relative to the bundle directory.
	Path string `yaml:"path"`
	// Size is the size in bytes.
	Size int64 `yaml:"size"`
	// SHA256 is the hex digest of the content.
	SHA256 string `yaml:"sha256"`
}

// Packager writes bundle archives into a distribution directory.
type Packager struct {
	// distDir receives the archives.
	distDir string
	// signer is optional; nil disables signatures.
	signer FileSigner
}

// Option configures a Packager.
type Option func(*Packager)

// WithSigner enables detached signatures.
func WithSigner(signer FileSigner) Option {
	return func(p *Packager) {
		p.signer = signer
	}
}

// New creates a Packager writing into distDir.
func New(distDir string, opts ...Option) *Packager {
	p := &Packager{distDir: distDir}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ArchivePath returns where the archive of bundleName is written.
func (p *Packager) ArchivePath(bundleName string) string {
	return filepath.Join(p.distDir, bundleName+ArchiveExt)
}

// Package writes b and its sidecars and returns the packaged result.
func (p *Packager) Package(ctx context.Context, b *bundle.Bundle) (*bundle.Packaged, error) {
	ctx = logger.WithKV(ctx, "bundle", b.Name)

	// The metadata document owns its path inside the archive.
	for _, file := range b.Files {
		if file.RelPath == MetadataFilename {
			return nil, fmt.Errorf("package %s: %w: %s from %s uses the metadata path",
				b.Name, bundle.ErrConflictingArtifact, file.RelPath, file.PlatformTag)
		}
	}

	if err := os.MkdirAll(p.distDir, ExecutableFileMode); err != nil {
		return nil, fmt.Errorf("create dist directory: %w", err)
	}

	target := p.ArchivePath(b.Name)

	sum, size, err := p.writeArchive(ctx, target, b)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", b.Name, err)
	}

	sidecar := fmt.Sprintf("%s  %s\n", sum, filepath.Base(target))
	if err = os.WriteFile(target+ChecksumExt, []byte(sidecar), DefaultFileMode); err != nil { //nolint:gosec // Public data.
		return nil, fmt.Errorf("write checksum file: %w", err)
	}

	packaged := &bundle.Packaged{
		Bundle:      b,
		ArchivePath: target,
		Checksum:    sum,
		Size:        size,
	}

	if p.signer != nil {
		sigPath, signErr := p.signer.SignFile(target)
		if signErr != nil {
			return nil, fmt.Errorf("sign %s: %w", b.Name, signErr)
		}

		packaged.SignaturePath = sigPath
	}

	logger.InfoKV(ctx, "Packaged bundle", "path", target, "sha256", sum, "size", size, "files", len(b.Files))

	return packaged, nil
}

// writeArchive streams the archive to a temporary file, then renames it into place.
func (p *Packager) writeArchive(ctx context.Context, target string, b *bundle.Bundle) (string, int64, error) {
	tmp, err := os.CreateTemp(p.distDir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", 0, err
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // Already renamed on success.

	var (
		hasher = checksum.New()
		size   = &countingWriter{}
	)

	if err = writeTarGz(ctx, io.MultiWriter(tmp, hasher, size), b); err != nil {
		_ = tmp.Close()

		return "", 0, err
	}

	if err = tmp.Close(); err != nil {
		return "", 0, err
	}

	if err = os.Chmod(tmpPath, DefaultFileMode); err != nil {
		return "", 0, err
	}

	if err = os.Rename(tmpPath, target); err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), size.n, nil
}

// writeTarGz writes the bundle members sorted by relative path, then the metadata.
func writeTarGz(ctx context.Context, w io.Writer, b *bundle.Bundle) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	files := slices.Clone(b.Files)
	slices.SortFunc(files, func(x, y bundle.File) int {
		return strings.Compare(x.RelPath, y.RelPath)
	})

	meta := Metadata{
		Name:           b.Name,
		Library:        b.Metadata.Library,
		LibraryVersion: b.Metadata.LibraryVersion,
		Version:        b.Metadata.PipelineVersion,
		Label:          b.Label,
		Platforms:      slices.Clone(b.Platforms),
		Files:          make([]FileMetadata, 0, len(files)),
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		fileMeta, err := addFile(tw, b.Name, file)
		if err != nil {
			return fmt.Errorf("add %s: %w", file.RelPath, err)
		}

		meta.Files = append(meta.Files, fileMeta)
	}

	document, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	metaName := path.Join(b.Name, MetadataFilename)
	if err = writeEntry(tw, metaName, DefaultFileMode, int64(len(document)), bytes.NewReader(document)); err != nil {
		return err
	}

	if err = tw.Close(); err != nil {
		return err
	}

	return gw.Close()
}

// addFile copies one file into the archive and returns its metadata.
func addFile(tw *tar.Writer, bundleName string, file bundle.File) (FileMetadata, error) {
	src, err := os.Open(file.Path)
	if err != nil {
		return FileMetadata{}, err
	}

	defer src.Close() //nolint:errcheck // Read-only file.

	info, err := src.Stat()
	if err != nil {
		return FileMetadata{}, err
	}

	mode := DefaultFileMode
	if info.Mode().Perm()&0o111 != 0 {
		mode = ExecutableFileMode
	}

	hasher := checksum.New()

	err = writeEntry(tw, path.Join(bundleName, file.RelPath), mode, info.Size(), io.TeeReader(src, hasher))
	if err != nil {
		return FileMetadata{}, err
	}

	return FileMetadata{
		Path:   file.RelPath,
		Size:   info.Size(),
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// writeEntry writes a regular-file header with normalized fields and copies size bytes of r.
func writeEntry(tw *tar.Writer, name string, mode os.FileMode, size int64, r io.Reader) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     int64(mode),
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.CopyN(tw, r, size); err != nil {
		return err
	}

	return nil
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	// n is the number of bytes written.
	n int64
}

// Write implements io.Writer.
func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))

	return len(p), nil
}
