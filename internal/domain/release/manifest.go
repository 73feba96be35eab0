package release

import (
	"encoding/hex"
	"fmt"
	"path"
	"slices"
	"strings"
)

// checksumLength is the length of a hex-encoded SHA-256 digest.
const checksumLength = 64

// Variant describes one published archive of the library.
type Variant struct {
	// ArchiveFileName is the file name of the archive on the release page.
	ArchiveFileName string `yaml:"file"`
	// Checksum is the expected hex-encoded SHA-256 of the archive.
	Checksum string `yaml:"sha256"`
	// PlatformTag identifies OS, architecture and libc (e.g. x86_64-linux-musl).
	PlatformTag string `yaml:"platform"`
}

// Validate checks that the variant carries a usable file name, checksum and platform tag.
func (v Variant) Validate() error {
	switch {
	case strings.TrimSpace(v.ArchiveFileName) == "":
		return fmt.Errorf("%w: archive file name is empty", ErrInvalidManifest)
	case path.Base(v.ArchiveFileName) != v.ArchiveFileName || strings.ContainsRune(v.ArchiveFileName, '\\'):
		return fmt.Errorf("%w: archive file name %q must not contain directories", ErrInvalidManifest, v.ArchiveFileName)
	case strings.TrimSpace(v.PlatformTag) == "":
		return fmt.Errorf("%w: %s: platform tag is empty", ErrInvalidManifest, v.ArchiveFileName)
	case strings.ContainsAny(v.PlatformTag, `/\`) || v.PlatformTag == "." || v.PlatformTag == "..":
		return fmt.Errorf("%w: %s: platform tag %q is not a plain name", ErrInvalidManifest, v.ArchiveFileName, v.PlatformTag)
	case v.Checksum == "":
		return fmt.Errorf("%w: %s: checksum is empty", ErrInvalidManifest, v.ArchiveFileName)
	}

	if len(v.Checksum) != checksumLength || strings.ToLower(v.Checksum) != v.Checksum {
		return fmt.Errorf("%w: %s: checksum %q is not a lowercase hex SHA-256", ErrInvalidManifest, v.ArchiveFileName, v.Checksum)
	}

	if _, err := hex.DecodeString(v.Checksum); err != nil {
		return fmt.Errorf("%w: %s: checksum %q: %w", ErrInvalidManifest, v.ArchiveFileName, v.Checksum, err)
	}

	return nil
}

// Manifest maps release versions to their ordered variants.
// The zero value is empty; build one with NewManifest.
type Manifest struct {
	// library is the upstream library name, e.g. libdemo.
	library string
	// releases holds the validated variants per version.
	releases map[string][]Variant
}

// NewManifest validates every version and variant and returns an immutable manifest.
// Input slices are copied, so later changes by the caller are not observed.
func NewManifest(library string, releases map[string][]Variant) (*Manifest, error) {
	if strings.TrimSpace(library) == "" {
		return nil, fmt.Errorf("%w: library name is empty", ErrInvalidManifest)
	}

	if len(releases) == 0 {
		return nil, fmt.Errorf("%w: no releases defined", ErrInvalidManifest)
	}

	m := &Manifest{
		library:  library,
		releases: make(map[string][]Variant, len(releases)),
	}

	for version, variants := range releases {
		if strings.TrimSpace(version) == "" {
			return nil, fmt.Errorf("%w: empty version key", ErrInvalidManifest)
		}

		if err := validateVariants(version, variants); err != nil {
			return nil, err
		}

		m.releases[version] = slices.Clone(variants)
	}

	return m, nil
}

// validateVariants checks each variant plus per-version uniqueness of tags and file names.
func validateVariants(version string, variants []Variant) error {
	if len(variants) == 0 {
		return fmt.Errorf("%w: version %s has no variants", ErrInvalidManifest, version)
	}

	var (
		tags  = make(map[string]struct{}, len(variants))
		files = make(map[string]struct{}, len(variants))
	)

	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("version %s: %w", version, err)
		}

		if _, dup := tags[v.PlatformTag]; dup {
			return fmt.Errorf("%w: version %s: duplicate platform tag %s", ErrInvalidManifest, version, v.PlatformTag)
		}

		if _, dup := files[v.ArchiveFileName]; dup {
			return fmt.Errorf("%w: version %s: duplicate archive %s", ErrInvalidManifest, version, v.ArchiveFileName)
		}

		tags[v.PlatformTag] = struct{}{}
		files[v.ArchiveFileName] = struct{}{}
	}

	return nil
}

// Library returns the upstream library name.
func (m *Manifest) Library() string {
	return m.library
}

// Lookup returns a copy of the ordered variants of version.
func (m *Manifest) Lookup(version string) ([]Variant, error) {
	variants, ok := m.releases[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownVersion, version, strings.Join(m.Versions(), ", "))
	}

	return slices.Clone(variants), nil
}

// Versions returns the known versions sorted lexicographically.
func (m *Manifest) Versions() []string {
	versions := make([]string, 0, len(m.releases))
	for version := range m.releases {
		versions = append(versions, version)
	}

	slices.Sort(versions)

	return versions
}
