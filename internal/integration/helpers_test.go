package integration

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/config"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/domain/release"
	"github.com/oshokin/libpack/internal/repository/manifest"
	"github.com/oshokin/libpack/internal/service/pipeline"
	"github.com/oshokin/libpack/internal/service/registry"
	"github.com/oshokin/libpack/internal/testutil"
)

const (
	// releaseVersion is the version of the fixture release.
	releaseVersion = "0.6.0"
	// configFile is the configuration written into the working directory.
	configFile = "libpack.yaml"
)

// linuxPlatforms are the variants published by the fixture release.
var linuxPlatforms = []string{ //nolint:gochecknoglobals // Test fixture.
	"x86_64-linux", "x86_64-linux-musl", "aarch64-linux", "aarch64-linux-musl",
}

// startReleaseHost serves one archive per platform and counts requests.
// It returns the host URL, the manifest variants and the request counter.
func startReleaseHost(t *testing.T) (string, []release.Variant, *atomic.Int64) {
	t.Helper()

	var (
		archives = make(map[string][]byte, len(linuxPlatforms))
		variants = make([]release.Variant, 0, len(linuxPlatforms))
		requests = new(atomic.Int64)
	)

	for _, tag := range linuxPlatforms {
		data := testutil.TarGz(t,
			testutil.Entry{Name: "lib", Dir: true},
			testutil.Entry{Name: "lib/" + tag + "/libdemo.so", Body: "elf-" + tag, Mode: 0o755},
			testutil.Entry{Name: "lib/libdemo.pc", Body: "prefix=/usr"},
			testutil.Entry{Name: "README.md", Body: "libdemo"},
		)
		file := "libdemo-" + releaseVersion + "-" + tag + ".tar.gz"
		archives[file] = data
		variants = append(variants, release.Variant{ArchiveFileName: file, Checksum: testutil.Sum(data), PlatformTag: tag})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		data, ok := archives[path.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return srv.URL, variants, requests
}

// writeWorkspace switches into a fresh directory and writes libpack.yaml and releases.yaml.
// Paths in the configuration stay relative, as a user would write them.
func writeWorkspace(t *testing.T, host string, variants []release.Variant, registryCfg config.Registry) string {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	requireClean := false
	retries := 0

	cfg := &config.Config{
		Library:        "libdemo",
		ReleaseVersion: releaseVersion,
		Release:        config.Release{Host: host, Owner: "example", Repo: "libdemo"},
		Exclude:        []string{"*.pc", "README.md"},
		Bundles:        bundle.DefaultPlan(),
		Registry:       registryCfg,
		RequireClean:   &requireClean,
		Retries:        &retries,
		Timeout:        10 * time.Second,
		LogLevel:       "error",
	}
	require.NoError(t, config.Save(configFile, cfg))
	require.NoError(t, manifest.Save(config.DefaultManifestFilename, "libdemo", map[string][]release.Variant{
		releaseVersion: variants,
	}))

	return dir
}

// runStage runs one pipeline command against the workspace configuration and returns the report.
func runStage(t *testing.T, stage pipeline.Stage) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer

	err := pipeline.Run(ctx, &pipeline.Options{
		ConfigPath: configFile,
		Stage:      stage,
		Output:     &out,
	})

	return out.String(), err
}

// reservePort returns address on a free TCP port and closes it.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// startRegistry runs the local gRPC registry until the test ends.
func startRegistry(t *testing.T, addr, storage string) {
	t.Helper()

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Start server in background goroutine.
	go func() {
		defer close(done)

		_ = registry.Run(ctx, &registry.Options{ListenAddress: addr, StorageDir: storage}) //nolint:errcheck // Stopped by cancel.
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait until the registry accepts connections.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}

		_ = conn.Close()

		return true
	}, 5*time.Second, 20*time.Millisecond)
}
