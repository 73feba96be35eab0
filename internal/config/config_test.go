package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// TestValidate checks required fields and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Missing library.
	require.ErrorIs(t, Validate(new(Config)), errLibraryRequired)

	// Missing release version.
	cfg := &Config{Library: "libdemo"}
	require.ErrorIs(t, Validate(cfg), errReleaseVersionRequired)

	// Missing release repository.
	cfg = &Config{Library: "libdemo", ReleaseVersion: "1.0.0"}
	require.ErrorIs(t, Validate(cfg), errReleaseRepoRequired)

	// Unknown registry kind.
	cfg = &Config{
		Library:        "libdemo",
		ReleaseVersion: "1.0.0",
		Release:        Release{Owner: "o", Repo: "r"},
		Registry:       Registry{Kind: "ftp"},
	}
	require.ErrorIs(t, Validate(cfg), errUnknownRegistry)

	// Broken plan.
	cfg = &Config{
		Library:        "libdemo",
		ReleaseVersion: "1.0.0",
		Release:        Release{Owner: "o", Repo: "r"},
		Bundles:        bundle.Plan{{Label: "x"}},
	}
	require.ErrorIs(t, Validate(cfg), bundle.ErrInvalidPlan)

	// Bad log format.
	cfg = &Config{
		Library:        "libdemo",
		ReleaseVersion: "1.0.0",
		Release:        Release{Owner: "o", Repo: "r"},
		LogFormat:      "xml",
	}
	require.Error(t, Validate(cfg))

	// Minimal config gets defaults.
	cfg = &Config{
		Library:        "libdemo",
		ReleaseVersion: "1.0.0",
		Release:        Release{Owner: "o", Repo: "r"},
	}
	require.NoError(t, Validate(cfg))
	require.Equal(t, "1.0.0", cfg.PipelineVersion)
	require.Equal(t, DefaultReleaseHost, cfg.Release.Host)
	require.Equal(t, DefaultCacheDir, cfg.CacheDir)
	require.Equal(t, DefaultDistDir, cfg.DistDir)
	require.Equal(t, DefaultManifestFilename, cfg.ManifestPath)
	require.Equal(t, DefaultWorkers, cfg.Workers)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultRetries, cfg.RetryCount())
	require.True(t, cfg.CleanTreeRequired())
	require.Equal(t, RegistryHTTP, cfg.Registry.Kind)
	require.Equal(t, bundle.DefaultPlan(), cfg.Bundles)
	require.ErrorIs(t, cfg.RequireRegistry(), errRegistryURLRequired)
}

// TestSaveLoadRoundtrip ensures a configuration is persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "libpack.yaml")

	cfg := Default()
	cfg.PipelineVersion = "1.0.0.1"
	cfg.Timeout = 90 * time.Second
	requireClean := false
	cfg.RequireClean = &requireClean

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Library, loaded.Library)
	require.Equal(t, "1.0.0.1", loaded.PipelineVersion)
	require.Equal(t, 90*time.Second, loaded.Timeout)
	require.Equal(t, cfg.Bundles, loaded.Bundles)
	require.Equal(t, cfg.Exclude, loaded.Exclude)
	require.False(t, loaded.CleanTreeRequired())

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_ParsesYAML reads a hand-written file with a custom plan.
func TestLoad_ParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "libpack.yaml")
	contents := `
library: libdemo
release_version: 2.1.0
release:
  owner: acme
  repo: libdemo
timeout: 30s
retries: 0
exclude: ["*.a"]
bundles:
  - platforms: [x86_64-linux]
  - label: x86_64-linux
    platforms: [x86_64-linux]
registry:
  kind: grpc
  url: 127.0.0.1:7070
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 0, cfg.RetryCount())
	require.Len(t, cfg.Bundles, 2)
	require.True(t, cfg.Bundles[0].IsFallback())
	require.Equal(t, RegistryGRPC, cfg.Registry.Kind)
	require.NoError(t, cfg.RequireRegistry())
}

// TestLoad_MissingFile returns a wrapped read error.
func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestParseToggle covers accepted truthy spellings.
func TestParseToggle(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"1", "true", "TRUE", "yes", " on "} {
		require.True(t, ParseToggle(v), v)
	}

	for _, v := range []string{"", "0", "false", "no", "off", "maybe"} {
		require.False(t, ParseToggle(v), v)
	}
}

// TestIncludeOptionalFromEnv checks that the environment variable overrides the file.
func TestIncludeOptionalFromEnv(t *testing.T) {
	t.Setenv(IncludeOptionalEnv, "yes")

	enabled, ok := IncludeOptionalFromEnv()
	require.True(t, ok)
	require.True(t, enabled)

	path := filepath.Join(t.TempDir(), "libpack.yaml")
	require.NoError(t, Save(path, Default()))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.IncludeOptional)

	t.Setenv(IncludeOptionalEnv, "")

	_, ok = IncludeOptionalFromEnv()
	require.False(t, ok)
}

// TestSecretsFromEnv reads the token and passphrase through their named variables.
func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_LIBPACK_TOKEN", "s3cret")
	t.Setenv("TEST_LIBPACK_PASS", "hunter2")

	cfg := Default()
	cfg.Registry.TokenEnv = "TEST_LIBPACK_TOKEN"
	cfg.Signing.PassphraseEnv = "TEST_LIBPACK_PASS"

	require.Equal(t, "s3cret", cfg.RegistryToken())
	require.Equal(t, "hunter2", cfg.SigningPassphrase())

	cfg.Registry.TokenEnv = ""
	require.Empty(t, cfg.RegistryToken())
}
