package bundle

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/oshokin/libpack/internal/domain/release"
)

// CacheLayout computes the deterministic on-disk locations of the local cache:
// {root}/{library}-{version}/{platformTag}/{archiveFileName}.
type CacheLayout struct {
	// Root is the cache directory, e.g. vendor.
	Root string
	// Library is the upstream library name.
	Library string
}

// VersionDir returns the directory holding every variant of a version.
func (l CacheLayout) VersionDir(version string) string {
	return filepath.Join(l.Root, l.Library+"-"+version)
}

// VariantDir returns the directory that receives the archive and its extracted files.
func (l CacheLayout) VariantDir(version string, variant release.Variant) string {
	return filepath.Join(l.VersionDir(version), variant.PlatformTag)
}

// ArchivePath returns the cached archive location of a variant.
func (l CacheLayout) ArchivePath(version string, variant release.Variant) string {
	return filepath.Join(l.VariantDir(version, variant), variant.ArchiveFileName)
}

// PartialDir returns the directory used for in-flight downloads.
// It lives outside every variant directory so partial files are never selected.
func (l CacheLayout) PartialDir() string {
	return filepath.Join(l.Root, ".partial")
}

// Artifact is an archive present in the local cache.
type Artifact struct {
	// Path is the cached archive location.
	Path string
	// Version is the release version the archive belongs to.
	Version string
	// Variant is the manifest entry the archive was fetched for.
	Variant release.Variant
	// Verified is true only after the file's checksum matched Variant.Checksum.
	Verified bool
}

// Tree is the extracted content of one artifact.
type Tree struct {
	// Root is the directory the archive was extracted into.
	Root string
	// ArchivePath is the archive the tree came from; it may reside under Root.
	ArchivePath string
	// Version is the release version of the tree.
	Version string
	// Variant is the manifest entry of the tree.
	Variant release.Variant
}

// File is one selected file of an extracted tree.
type File struct {
	// Path is the absolute path of the file on disk.
	Path string
	// RelPath is the slash-separated path relative to the tree root.
	RelPath string
	// PlatformTag is the platform of the tree the file came from.
	PlatformTag string
}

// FileSet is an ordered list of selected files.
type FileSet []File

// Paths returns the absolute paths of the set in order.
func (s FileSet) Paths() []string {
	paths := make([]string, 0, len(s))
	for _, f := range s {
		paths = append(paths, f.Path)
	}

	return paths
}

// RelPaths returns the relative paths of the set in order.
func (s FileSet) RelPaths() []string {
	paths := make([]string, 0, len(s))
	for _, f := range s {
		paths = append(paths, f.RelPath)
	}

	return paths
}

// Metadata is shared by every bundle of a run.
type Metadata struct {
	// Library is the upstream library name, used as the bundle name prefix.
	Library string
	// LibraryVersion is the upstream release version that was packaged.
	LibraryVersion string
	// PipelineVersion is the published package version; it may carry a suffix
	// the upstream version does not have.
	PipelineVersion string
}

// Bundle is one distributable package: the union of the selected files of its platforms.
type Bundle struct {
	// Name is {library}-{pipelineVersion}[-{label}].
	Name string
	// Label is the public platform label; empty marks the fallback bundle.
	Label string
	// Metadata is the run-wide metadata the bundle was built with.
	Metadata Metadata
	// Platforms lists the source platform tags in plan order.
	Platforms []string
	// Files is the merged file set sorted by relative path.
	Files FileSet
}

// New builds a Bundle from run metadata, a label and a file set.
// The inputs are copied, so bundles never share mutable state.
func New(meta Metadata, label string, platforms []string, files FileSet) *Bundle {
	return &Bundle{
		Name:      Name(meta, label),
		Label:     label,
		Metadata:  meta,
		Platforms: slices.Clone(platforms),
		Files:     slices.Clone(files),
	}
}

// Name renders the public package name for a label.
func Name(meta Metadata, label string) string {
	name := meta.Library + "-" + meta.PipelineVersion
	if label == "" {
		return name
	}

	return name + "-" + label
}

// IsFallback reports whether the bundle is the unlabeled fallback bundle.
func (b *Bundle) IsFallback() bool {
	return b.Label == ""
}

// Packaged is a bundle written to an archive on disk.
type Packaged struct {
	// Bundle is the source bundle.
	Bundle *Bundle
	// ArchivePath is the written .tar.gz.
	ArchivePath string
	// Checksum is the hex SHA-256 of the archive.
	Checksum string
	// Size is the archive size in bytes.
	Size int64
	// SignaturePath is the armored detached signature; empty when signing is disabled.
	SignaturePath string
}

// Receipt confirms that a registry accepted a bundle.
type Receipt struct {
	// ID identifies the upload at the registry.
	ID string
	// Bundle is the published bundle name.
	Bundle string
	// Location is where the registry serves the bundle from.
	Location string
	// Checksum is the hex SHA-256 the registry recorded.
	Checksum string
	// PublishedAt is when the registry first accepted the bundle.
	PublishedAt time.Time
	// AlreadyPublished is true when the registry already held identical content.
	AlreadyPublished bool
}

// Upload is a bundle archive received by a registry.
type Upload struct {
	// Name is the bundle name.
	Name string
	// Version is the pipeline version of the bundle.
	Version string
	// Label is the public platform label; empty for the fallback bundle.
	Label string
	// Checksum is the hex SHA-256 the sender computed.
	Checksum string
	// Content is the archive.
	Content []byte
}
