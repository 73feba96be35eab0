package publisher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// git runs a git command in dir.
func git(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", append([]string{
		"-c", "user.name=libpack", "-c", "user.email=libpack@example.com", "-c", "commit.gpgsign=false",
	}, args...)...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
}

// TestGitWorkTree_EnsureClean covers clean, dirty and untracked working trees.
func TestGitWorkTree_EnsureClean(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}

	dir := t.TempDir()
	git(t, dir, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libpack.yaml"), []byte("library: libdemo\n"), 0o600))
	git(t, dir, "add", "libpack.yaml")
	git(t, dir, "commit", "-q", "-m", "init")

	tree := NewGitWorkTree(dir)
	require.NoError(t, tree.EnsureClean(context.Background()))

	// Untracked outputs do not block publishing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg.tar.gz"), []byte("x"), 0o600))
	require.NoError(t, tree.EnsureClean(context.Background()))

	// Modified tracked files do.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libpack.yaml"), []byte("library: other\n"), 0o600))

	err := tree.EnsureClean(context.Background())
	require.ErrorIs(t, err, bundle.ErrPublishPrecondition)
	require.Contains(t, err.Error(), "libpack.yaml")
}
