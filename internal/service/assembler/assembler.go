// Package assembler groups per-platform file sets into bundles according to
// the bundle plan.
package assembler

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
	"github.com/oshokin/libpack/internal/service/selector"
)

// Assembler builds bundles for one run.
type Assembler struct {
	// meta is shared by every bundle.
	meta bundle.Metadata
	// includeOptional enables optional plan entries.
	includeOptional bool
	// sums caches file digests by absolute path.
	sums map[string]string
}

// New creates an Assembler for meta.
func New(meta bundle.Metadata, includeOptional bool) *Assembler {
	return &Assembler{
		meta:            meta,
		includeOptional: includeOptional,
		sums:            make(map[string]string),
	}
}

// Assemble produces one bundle per active plan entry, in plan order.
// sets maps platform tags to their selected files.
func (a *Assembler) Assemble(ctx context.Context, plan bundle.Plan, sets map[string]bundle.FileSet) ([]*bundle.Bundle, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	active := plan.Active(a.includeOptional)
	bundles := make([]*bundle.Bundle, 0, len(active))

	for _, entry := range plan {
		if entry.Optional && !a.includeOptional {
			logger.InfoKV(ctx, "Skipping optional bundle", "bundle", bundle.Name(a.meta, entry.Label))
		}
	}

	for _, entry := range active {
		files, err := a.union(entry, sets)
		if err != nil {
			return nil, err
		}

		b := bundle.New(a.meta, entry.Label, entry.Platforms, files)
		logger.InfoKV(ctx, "Assembled bundle", "bundle", b.Name, "platforms", b.Platforms, "files", len(b.Files))

		bundles = append(bundles, b)
	}

	return bundles, nil
}

// union merges the file sets of entry's platforms, deduplicating by relative path.
func (a *Assembler) union(entry bundle.PlanEntry, sets map[string]bundle.FileSet) (bundle.FileSet, error) {
	var (
		merged bundle.FileSet
		byRel  = make(map[string]bundle.File)
	)

	excluded, err := selector.New(entry.Exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %q: %w", bundle.ErrInvalidPlan, entry.Label, err)
	}

	for _, tag := range entry.Platforms {
		set, ok := sets[tag]
		if !ok {
			return nil, fmt.Errorf("%w: bundle %q needs platform %s, which was not extracted",
				bundle.ErrInvalidPlan, entry.Label, tag)
		}

		for _, file := range set {
			if excluded.Excluded(file.RelPath) {
				continue
			}

			existing, seen := byRel[file.RelPath]
			if !seen {
				byRel[file.RelPath] = file
				merged = append(merged, file)

				continue
			}

			same, sameErr := a.sameContent(existing.Path, file.Path)
			if sameErr != nil {
				return nil, sameErr
			}

			if !same {
				return nil, fmt.Errorf("%w: %s differs between %s and %s",
					bundle.ErrConflictingArtifact, file.RelPath, existing.PlatformTag, file.PlatformTag)
			}
		}
	}

	slices.SortFunc(merged, func(x, y bundle.File) int {
		return strings.Compare(x.RelPath, y.RelPath)
	})

	return merged, nil
}

// sameContent compares two files by size, then by digest.
func (a *Assembler) sameContent(left, right string) (bool, error) {
	if left == right {
		return true, nil
	}

	leftInfo, err := os.Stat(left)
	if err != nil {
		return false, err
	}

	rightInfo, err := os.Stat(right)
	if err != nil {
		return false, err
	}

	if leftInfo.Size() != rightInfo.Size() {
		return false, nil
	}

	leftSum, err := a.sum(left)
	if err != nil {
		return false, err
	}

	rightSum, err := a.sum(right)
	if err != nil {
		return false, err
	}

	return leftSum == rightSum, nil
}

// sum returns the cached digest of path.
func (a *Assembler) sum(path string) (string, error) {
	if sum, ok := a.sums[path]; ok {
		return sum, nil
	}

	sum, err := checksum.File(path)
	if err != nil {
		return "", err
	}

	a.sums[path] = sum

	return sum, nil
}
