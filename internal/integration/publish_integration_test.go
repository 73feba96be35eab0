package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/checksum"
	"github.com/oshokin/libpack/internal/config"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/service/pipeline"
	"github.com/oshokin/libpack/internal/service/publisher"
)

// TestPackage_WritesBundles runs the package command from a fresh workspace and checks the outputs.
func TestPackage_WritesBundles(t *testing.T) {
	host, variants, requests := startReleaseHost(t)
	writeWorkspace(t, host, variants, config.Registry{Kind: config.RegistryHTTP})

	_, err := runStage(t, pipeline.StagePackage)
	require.NoError(t, err)
	require.EqualValues(t, len(linuxPlatforms), requests.Load())

	for _, name := range []string{"libdemo-0.6.0", "libdemo-0.6.0-x86_64-linux", "libdemo-0.6.0-aarch64-linux"} {
		archive := filepath.Join(config.DefaultDistDir, name+".tar.gz")
		require.FileExists(t, archive)

		sum, sumErr := checksum.File(archive)
		require.NoError(t, sumErr)

		sidecar, readErr := os.ReadFile(archive + ".sha256")
		require.NoError(t, readErr)
		require.Equal(t, sum+"  "+name+".tar.gz\n", string(sidecar))
	}

	require.NoFileExists(t, filepath.Join(config.DefaultDistDir, "libdemo-0.6.0-x86_64-darwin.tar.gz"))

	// Archives are cached below vendor/{library}-{version}/{platform}.
	for i, tag := range linuxPlatforms {
		require.FileExists(t, filepath.Join(config.DefaultCacheDir, "libdemo-"+releaseVersion, tag, variants[i].ArchiveFileName))
	}

	// A second run reuses the verified cache.
	_, err = runStage(t, pipeline.StagePackage)
	require.NoError(t, err)
	require.EqualValues(t, len(linuxPlatforms), requests.Load())
}

// TestPublish_GRPCRegistry publishes to a local registry started like "libpack registry serve".
func TestPublish_GRPCRegistry(t *testing.T) {
	host, variants, _ := startReleaseHost(t)

	addr := reservePort(t)
	dir := writeWorkspace(t, host, variants, config.Registry{Kind: config.RegistryGRPC, URL: addr})

	storage := filepath.Join(dir, "registry")
	startRegistry(t, addr, storage)

	report, err := runStage(t, pipeline.StagePublish)
	require.NoError(t, err)
	require.Contains(t, report, "3 published, 0 already published, 0 failed")

	require.FileExists(t, filepath.Join(storage, "index.json"))
	require.FileExists(t, filepath.Join(storage, "bundles", "libdemo-0.6.0.tar.gz"))

	report, err = runStage(t, pipeline.StagePublish)
	require.NoError(t, err)
	require.Contains(t, report, "0 published, 3 already published, 0 failed")
}

// httpRegistry is a minimal bundle registry speaking the upload protocol.
type httpRegistry struct {
	mu       sync.Mutex
	stored   map[string]string
	tokens   []string
	failName string
}

func (h *httpRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != publisher.BundlesEndpoint {
		http.NotFound(w, r)

		return
	}

	name := r.Header.Get(publisher.HeaderBundleName)

	h.mu.Lock()
	h.tokens = append(h.tokens, r.Header.Get("Authorization"))
	h.mu.Unlock()

	if name == h.failName {
		http.Error(w, "quota exceeded", http.StatusBadRequest)

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	sum := checksum.Bytes(body)
	if sum != r.Header.Get(publisher.HeaderBundleSHA256) {
		http.Error(w, "checksum mismatch", http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	_, exists := h.stored[name]
	h.stored[name] = sum
	h.mu.Unlock()

	status := http.StatusCreated
	if exists {
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"sha256": sum, "location": "/bundles/" + name})
}

// TestPublish_HTTPRegistry publishes with a bearer token and reports a failing bundle
// without blocking the others.
func TestPublish_HTTPRegistry(t *testing.T) {
	host, variants, _ := startReleaseHost(t)

	reg := &httpRegistry{stored: make(map[string]string), failName: "libdemo-0.6.0-aarch64-linux"}
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)

	t.Setenv("LIBPACK_TEST_TOKEN", "s3cret")
	writeWorkspace(t, host, variants, config.Registry{Kind: config.RegistryHTTP, URL: srv.URL, TokenEnv: "LIBPACK_TEST_TOKEN"})

	report, err := runStage(t, pipeline.StagePublish)
	require.Error(t, err)
	require.ErrorContains(t, err, "libdemo-0.6.0-aarch64-linux")
	require.Contains(t, report, "2 published, 0 already published, 1 failed")
	require.Contains(t, report, "quota exceeded")

	reg.mu.Lock()
	defer reg.mu.Unlock()

	require.Len(t, reg.stored, 2)
	require.Contains(t, reg.stored, "libdemo-0.6.0")
	require.Contains(t, reg.stored, "libdemo-0.6.0-x86_64-linux")

	for _, token := range reg.tokens {
		require.Equal(t, "Bearer s3cret", token)
	}
}

// TestPublish_DirtyWorkTree refuses to publish outside a clean git tree and downloads nothing.
func TestPublish_DirtyWorkTree(t *testing.T) {
	host, variants, requests := startReleaseHost(t)
	writeWorkspace(t, host, variants, config.Registry{Kind: config.RegistryHTTP, URL: "http://127.0.0.1:1"})

	// Re-enable the gate; the temporary workspace is not a git repository.
	cfg, err := config.Load(configFile)
	require.NoError(t, err)

	requireClean := true
	cfg.RequireClean = &requireClean
	require.NoError(t, config.Save(configFile, cfg))

	_, err = runStage(t, pipeline.StagePublish)
	require.ErrorIs(t, err, bundle.ErrPublishPrecondition)
	require.Zero(t, requests.Load())
}
