package bundle

import (
	"fmt"
	"strings"
)

// PlanEntry declares one output bundle and the platforms merged into it.
type PlanEntry struct {
	// Label is the public platform label; empty declares the fallback bundle.
	Label string `yaml:"label,omitempty"`
	// Platforms lists the source platform tags whose files are unioned.
	Platforms []string `yaml:"platforms"`
	// Optional entries are produced only when optional platforms are enabled.
	Optional bool `yaml:"optional,omitempty"`
	// Exclude lists extra base names or patterns omitted from this bundle only.
	Exclude []string `yaml:"exclude,omitempty"`
}

// IsFallback reports whether the entry declares the fallback bundle.
func (e PlanEntry) IsFallback() bool {
	return e.Label == ""
}

// Plan is the ordered list of bundles a run produces.
type Plan []PlanEntry

// Validate checks labels and platform lists.
// At most one fallback entry is allowed and labels must be unique.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no bundles declared", ErrInvalidPlan)
	}

	labels := make(map[string]struct{}, len(p))

	for i, entry := range p {
		if strings.ContainsAny(entry.Label, `/\ `) {
			return fmt.Errorf("%w: entry %d: label %q must be a plain name", ErrInvalidPlan, i, entry.Label)
		}

		if _, dup := labels[entry.Label]; dup {
			if entry.IsFallback() {
				return fmt.Errorf("%w: more than one fallback bundle", ErrInvalidPlan)
			}

			return fmt.Errorf("%w: duplicate label %s", ErrInvalidPlan, entry.Label)
		}

		labels[entry.Label] = struct{}{}

		if len(entry.Platforms) == 0 {
			return fmt.Errorf("%w: bundle %q has no platforms", ErrInvalidPlan, entry.Label)
		}

		seen := make(map[string]struct{}, len(entry.Platforms))

		for _, tag := range entry.Platforms {
			if strings.TrimSpace(tag) == "" {
				return fmt.Errorf("%w: bundle %q lists an empty platform", ErrInvalidPlan, entry.Label)
			}

			if _, dup := seen[tag]; dup {
				return fmt.Errorf("%w: bundle %q lists %s twice", ErrInvalidPlan, entry.Label, tag)
			}

			seen[tag] = struct{}{}
		}
	}

	return nil
}

// Active returns the entries a run produces; optional entries are kept only when includeOptional is set.
func (p Plan) Active(includeOptional bool) Plan {
	active := make(Plan, 0, len(p))

	for _, entry := range p {
		if entry.Optional && !includeOptional {
			continue
		}

		active = append(active, entry)
	}

	return active
}

// Platforms returns every platform tag referenced by the active entries, in first-seen order.
func (p Plan) Platforms() []string {
	var (
		tags []string
		seen = make(map[string]struct{})
	)

	for _, entry := range p {
		for _, tag := range entry.Platforms {
			if _, ok := seen[tag]; ok {
				continue
			}

			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}

	return tags
}

// DefaultPlan is the stock policy for a library published for Linux glibc and musl on
// x86_64 and aarch64: one fallback bundle over every Linux variant, one bundle per
// architecture merging both libcs, and an opt-in macOS bundle kept out of the fallback.
//
// Merged variants must keep platform-specific files at distinct relative paths, e.g.
// lib/x86_64-linux/libdemo.so next to lib/x86_64-linux-musl/libdemo.so. Archives that
// ship glibc and musl builds at the same lib/libdemo.so path cannot be merged: the
// assembler fails with ErrConflictingArtifact for a shared path with different content.
func DefaultPlan() Plan {
	return Plan{
		{
			Platforms: []string{"x86_64-linux", "x86_64-linux-musl", "aarch64-linux", "aarch64-linux-musl"},
		},
		{
			Label:     "x86_64-linux",
			Platforms: []string{"x86_64-linux", "x86_64-linux-musl"},
		},
		{
			Label:     "aarch64-linux",
			Platforms: []string{"aarch64-linux", "aarch64-linux-musl"},
		},
		{
			Label:     "x86_64-darwin",
			Platforms: []string{"x86_64-darwin"},
			Optional:  true,
		},
	}
}
