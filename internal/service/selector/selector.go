// Package selector turns extracted trees into the file sets that ship in
// bundles: regular files only, minus excluded names and the archive itself.
package selector

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// Selector filters extracted trees with an exclusion set.
type Selector struct {
	// names holds exact base names to drop.
	names map[string]struct{}
	// patterns holds doublestar patterns matched against base names and relative paths.
	patterns []string
}

// New builds a Selector. Entries without glob metacharacters are exact base
// names; the rest are doublestar patterns.
func New(excluded []string) (*Selector, error) {
	s := &Selector{names: make(map[string]struct{}, len(excluded))}

	for _, entry := range excluded {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.ContainsAny(entry, `*?[{\`) {
			s.names[entry] = struct{}{}

			continue
		}

		if !doublestar.ValidatePattern(entry) {
			return nil, fmt.Errorf("invalid exclusion pattern %q", entry)
		}

		s.patterns = append(s.patterns, entry)
	}

	return s, nil
}

// Excluded reports whether a file with the slash-separated relative path rel is excluded.
func (s *Selector) Excluded(rel string) bool {
	base := path.Base(rel)
	if _, ok := s.names[base]; ok {
		return true
	}

	for _, pattern := range s.patterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}

		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}

	return false
}

// Select enumerates the regular files of trees, drops excluded names and each
// tree's archive, and returns them sorted by absolute path.
func (s *Selector) Select(trees ...*bundle.Tree) (bundle.FileSet, error) {
	var files bundle.FileSet

	for _, tree := range trees {
		selected, err := s.selectTree(tree)
		if err != nil {
			return nil, err
		}

		files = append(files, selected...)
	}

	slices.SortFunc(files, func(a, b bundle.File) int {
		return strings.Compare(a.Path, b.Path)
	})

	return files, nil
}

// selectTree walks one tree.
func (s *Selector) selectTree(tree *bundle.Tree) (bundle.FileSet, error) {
	root, err := filepath.Abs(tree.Root)
	if err != nil {
		return nil, err
	}

	archive := ""
	if tree.ArchivePath != "" {
		if archive, err = filepath.Abs(tree.ArchivePath); err != nil {
			return nil, err
		}
	}

	var files bundle.FileSet

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.Type().IsRegular() || p == archive {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}

		rel = filepath.ToSlash(rel)
		if s.Excluded(rel) {
			return nil
		}

		files = append(files, bundle.File{
			Path:        p,
			RelPath:     rel,
			PlatformTag: tree.Variant.PlatformTag,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", tree.Root, err)
	}

	return files, nil
}
