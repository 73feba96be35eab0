package bundle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/domain/release"
)

// TestCacheLayout renders the vendor/{library}-{version}/{platform}/{file} layout.
func TestCacheLayout(t *testing.T) {
	t.Parallel()

	layout := CacheLayout{Root: "vendor", Library: "libdemo"}
	variant := release.Variant{ArchiveFileName: "libdemo-musl.tar.gz", PlatformTag: "x86_64-linux-musl"}

	require.Equal(t, filepath.Join("vendor", "libdemo-1.2.0"), layout.VersionDir("1.2.0"))
	require.Equal(t, filepath.Join("vendor", "libdemo-1.2.0", "x86_64-linux-musl"), layout.VariantDir("1.2.0", variant))
	require.Equal(t,
		filepath.Join("vendor", "libdemo-1.2.0", "x86_64-linux-musl", "libdemo-musl.tar.gz"),
		layout.ArchivePath("1.2.0", variant),
	)
	require.Equal(t, filepath.Join("vendor", ".partial"), layout.PartialDir())
}

// TestNew_NamesAndCopies checks bundle naming and that the builder does not alias its inputs.
func TestNew_NamesAndCopies(t *testing.T) {
	t.Parallel()

	meta := Metadata{Library: "libdemo", LibraryVersion: "1.2.0", PipelineVersion: "1.2.0.1.0"}
	platforms := []string{"x86_64-linux", "x86_64-linux-musl"}
	files := FileSet{{Path: "/a/lib.so", RelPath: "lib.so", PlatformTag: "x86_64-linux"}}

	fallback := New(meta, "", platforms, files)
	require.Equal(t, "libdemo-1.2.0.1.0", fallback.Name)
	require.True(t, fallback.IsFallback())

	labeled := New(meta, "x86_64-linux", platforms, files)
	require.Equal(t, "libdemo-1.2.0.1.0-x86_64-linux", labeled.Name)
	require.False(t, labeled.IsFallback())

	platforms[0] = "changed"
	files[0].RelPath = "changed"

	require.Equal(t, "x86_64-linux", labeled.Platforms[0])
	require.Equal(t, []string{"lib.so"}, labeled.Files.RelPaths())
	require.Equal(t, []string{"/a/lib.so"}, labeled.Files.Paths())
}

// TestPlan_Validate covers accepted and rejected plans.
func TestPlan_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultPlan().Validate())

	invalid := map[string]Plan{
		"empty":          {},
		"two fallbacks":  {{Platforms: []string{"a"}}, {Platforms: []string{"b"}}},
		"dup label":      {{Label: "x", Platforms: []string{"a"}}, {Label: "x", Platforms: []string{"b"}}},
		"no platforms":   {{Label: "x"}},
		"empty platform": {{Label: "x", Platforms: []string{""}}},
		"dup platform":   {{Label: "x", Platforms: []string{"a", "a"}}},
		"label with sep": {{Label: "x/y", Platforms: []string{"a"}}},
	}

	for name, plan := range invalid {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, plan.Validate(), ErrInvalidPlan)
		})
	}
}

// TestPlan_ActiveAndPlatforms verifies optional gating and platform collection.
func TestPlan_ActiveAndPlatforms(t *testing.T) {
	t.Parallel()

	plan := DefaultPlan()

	withoutOptional := plan.Active(false)
	require.Len(t, withoutOptional, 3)
	require.NotContains(t, withoutOptional.Platforms(), "x86_64-darwin")
	require.Equal(t,
		[]string{"x86_64-linux", "x86_64-linux-musl", "aarch64-linux", "aarch64-linux-musl"},
		withoutOptional.Platforms(),
	)

	withOptional := plan.Active(true)
	require.Len(t, withOptional, 4)
	require.Contains(t, withOptional.Platforms(), "x86_64-darwin")
}
