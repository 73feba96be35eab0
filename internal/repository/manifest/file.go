package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/libpack/internal/domain/release"
)

// document is the on-disk shape of the manifest.
type document struct {
	// Library is the upstream library name.
	Library string `yaml:"library"`
	// Releases maps versions to their ordered variants.
	Releases map[string][]release.Variant `yaml:"releases"`
}

// ErrNotFound is returned when the manifest file does not exist.
var ErrNotFound = errors.New("release manifest not found")

// Load reads and validates the manifest at path.
func Load(path string) (*release.Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return Parse(contents)
}

// Parse decodes and validates a manifest document.
func Parse(contents []byte) (*release.Manifest, error) {
	var doc document
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrInvalidManifest, err)
	}

	return release.NewManifest(doc.Library, doc.Releases)
}

// Save writes a manifest document for library with the given releases.
// It is used by tests and by tooling that pins new versions.
func Save(path, library string, releases map[string][]release.Variant) error {
	if _, err := release.NewManifest(library, releases); err != nil {
		return err
	}

	data, err := yaml.Marshal(&document{Library: library, Releases: releases})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, 0o644); err != nil { //nolint:gosec // The manifest is public data.
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}
