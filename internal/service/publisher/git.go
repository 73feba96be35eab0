package publisher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// GitWorkTree checks a git working tree with `git status --porcelain`.
// Untracked files are ignored so build outputs do not block publishing.
type GitWorkTree struct {
	// dir is the working tree; empty means the current directory.
	dir string
}

// NewGitWorkTree creates a check for the working tree at dir.
func NewGitWorkTree(dir string) *GitWorkTree {
	return &GitWorkTree{dir: dir}
}

// EnsureClean returns ErrPublishPrecondition when git fails or reports changes.
func (g *GitWorkTree) EnsureClean(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain", "--untracked-files=no")
	cmd.Dir = g.dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%w: git status: %w: %s", bundle.ErrPublishPrecondition, err, strings.TrimSpace(stderr.String()))
	}

	if changes := strings.TrimSpace(string(output)); changes != "" {
		return fmt.Errorf("%w: working tree has uncommitted changes:\n%s", bundle.ErrPublishPrecondition, changes)
	}

	return nil
}
