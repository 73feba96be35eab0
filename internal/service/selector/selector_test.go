package selector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/domain/release"
	"github.com/oshokin/libpack/internal/testutil"
)

// makeTree writes files below a fresh tree root.
func makeTree(t *testing.T, tag string, files ...string) *bundle.Tree {
	t.Helper()

	root := filepath.Join(t.TempDir(), tag)
	for _, f := range files {
		testutil.WriteFile(t, filepath.Join(root, filepath.FromSlash(f)), []byte(f))
	}

	return &bundle.Tree{Root: root, Variant: release.Variant{PlatformTag: tag}}
}

// TestSelect_ExcludesBaseNames drops an excluded base name and sorts the rest.
func TestSelect_ExcludesBaseNames(t *testing.T) {
	t.Parallel()

	tree := makeTree(t, "x86_64-linux", "lib.so", "lib.a", "lib.pc")

	s, err := New([]string{"lib.a"})
	require.NoError(t, err)

	files, err := s.Select(tree)
	require.NoError(t, err)
	require.Equal(t, []string{"lib.pc", "lib.so"}, files.RelPaths())
	require.Equal(t, []string{
		filepath.Join(tree.Root, "lib.pc"),
		filepath.Join(tree.Root, "lib.so"),
	}, files.Paths())

	for _, f := range files {
		require.Equal(t, "x86_64-linux", f.PlatformTag)
	}
}

// TestSelect_DropsArchiveAndDirectories never returns the archive or a directory.
func TestSelect_DropsArchiveAndDirectories(t *testing.T) {
	t.Parallel()

	tree := makeTree(t, "x86_64-linux", "libdemo.tar.gz", "lib/libdemo.so", "include/demo.h")
	tree.ArchivePath = filepath.Join(tree.Root, "libdemo.tar.gz")

	s, err := New(nil)
	require.NoError(t, err)

	files, err := s.Select(tree)
	require.NoError(t, err)
	require.Equal(t, []string{"include/demo.h", "lib/libdemo.so"}, files.RelPaths())
}

// TestSelect_Patterns matches globs against base names and relative paths.
func TestSelect_Patterns(t *testing.T) {
	t.Parallel()

	tree := makeTree(t, "x86_64-linux",
		"lib/libdemo.so", "lib/libdemo.a", "lib/pkgconfig/libdemo.pc", "share/doc/README", "include/demo.h")

	s, err := New([]string{"*.a", "**/pkgconfig/**", "share/**"})
	require.NoError(t, err)

	files, err := s.Select(tree)
	require.NoError(t, err)
	require.Equal(t, []string{"include/demo.h", "lib/libdemo.so"}, files.RelPaths())
}

// TestSelect_MultipleTreesSorted merges trees and sorts by absolute path.
func TestSelect_MultipleTreesSorted(t *testing.T) {
	t.Parallel()

	a := makeTree(t, "a", "z.so")
	b := makeTree(t, "b", "y.so")

	s, err := New(nil)
	require.NoError(t, err)

	files, err := s.Select(b, a)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Less(t, files[0].Path, files[1].Path)
}

// TestNew_InvalidPattern rejects malformed globs.
func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New([]string{"lib[.so"})
	require.Error(t, err)
}
