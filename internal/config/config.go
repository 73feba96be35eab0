package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
)

// Config holds every setting of a packaging run.
type Config struct {
	// Library is the upstream library name; it prefixes cache directories and bundle names.
	Library string `yaml:"library"`
	// ReleaseVersion selects the manifest entry to package.
	ReleaseVersion string `yaml:"release_version"`
	// PipelineVersion is the published bundle version; defaults to ReleaseVersion.
	PipelineVersion string `yaml:"pipeline_version,omitempty"`
	// Release locates the upstream release pages.
	Release Release `yaml:"release"`
	// ManifestPath is the release manifest YAML file.
	ManifestPath string `yaml:"manifest"`
	// CacheDir receives downloaded archives and extracted trees.
	CacheDir string `yaml:"cache_dir"`
	// DistDir receives packaged bundles.
	DistDir string `yaml:"dist_dir"`
	// Workers bounds concurrent fetch and extract operations.
	Workers int `yaml:"workers"`
	// Timeout bounds a single HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the number of retries for transient HTTP failures.
	Retries *int `yaml:"retries,omitempty"`
	// Exclude lists base names or doublestar patterns that never ship.
	Exclude []string `yaml:"exclude,omitempty"`
	// Bundles is the bundle plan.
	Bundles bundle.Plan `yaml:"bundles"`
	// IncludeOptional enables optional plan entries. The environment variable
	// named by IncludeOptionalEnv overrides the file value.
	IncludeOptional bool `yaml:"include_optional,omitempty"`
	// Registry is where bundles are published.
	Registry Registry `yaml:"registry"`
	// Signing configures detached signatures over bundle archives.
	Signing Signing `yaml:"signing,omitempty"`
	// RequireClean gates publishing on a clean git working tree; defaults to true.
	RequireClean *bool `yaml:"require_clean,omitempty"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format,omitempty"`
}

// Release locates upstream archives at {Host}/{Owner}/{Repo}/releases/download/v{version}/{file}.
type Release struct {
	// Host is the release host base URL.
	Host string `yaml:"host"`
	// Owner is the repository owner.
	Owner string `yaml:"owner"`
	// Repo is the repository name.
	Repo string `yaml:"repo"`
}

// Registry selects the publishing transport.
type Registry struct {
	// Kind is http or grpc.
	Kind string `yaml:"kind"`
	// URL is the HTTP base URL or the gRPC address.
	URL string `yaml:"url"`
	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"token_env,omitempty"`
	// MaxMessageSize caps gRPC pushes in bytes; zero keeps the client default.
	MaxMessageSize int `yaml:"max_message_size,omitempty"`
}

// Signing configures OpenPGP signatures for packaged bundles.
type Signing struct {
	// KeyFile is an armored private key; empty disables signing.
	KeyFile string `yaml:"key_file,omitempty"`
	// PassphraseEnv names the environment variable holding the key passphrase.
	PassphraseEnv string `yaml:"passphrase_env,omitempty"`
}

const (
	// DefaultConfigFilename is the default configuration file.
	DefaultConfigFilename = "libpack.yaml"
	// DefaultManifestFilename is the default release manifest file.
	DefaultManifestFilename = "releases.yaml"
	// DefaultCacheDir is the default cache directory.
	DefaultCacheDir = "vendor"
	// DefaultDistDir is the default output directory for bundles.
	DefaultDistDir = "pkg"
	// DefaultWorkers is the default fetch/extract concurrency.
	DefaultWorkers = 4
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of HTTP retries.
	DefaultRetries = 3
	// DefaultReleaseHost is the default release host.
	DefaultReleaseHost = "https://github.com"

	// RegistryHTTP publishes with HTTP POST requests.
	RegistryHTTP = "http"
	// RegistryGRPC publishes to a libpack gRPC registry.
	RegistryGRPC = "grpc"

	// IncludeOptionalEnv toggles optional platform bundles.
	IncludeOptionalEnv = "LIBPACK_INCLUDE_OPTIONAL_PLATFORMS"

	// DefaultFilePermissions is the permission for written config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errLibraryRequired is returned when the library name is missing.
	errLibraryRequired = errors.New("library must be provided")
	// errReleaseVersionRequired is returned when no release version is selected.
	errReleaseVersionRequired = errors.New("release_version must be provided")
	// errReleaseRepoRequired is returned when the release owner or repo is missing.
	errReleaseRepoRequired = errors.New("release owner and repo must be provided")
	// errUnknownRegistry is returned for registry kinds other than http and grpc.
	errUnknownRegistry = errors.New("unknown registry kind")
	// errRegistryURLRequired is returned when a registry kind has no URL.
	errRegistryURLRequired = errors.New("registry url must be provided")
	// errInvalidWorkers is returned for a negative worker count.
	errInvalidWorkers = errors.New("workers must not be negative")
)

// Default returns a configuration with the stock plan and directories.
func Default() *Config {
	retries := DefaultRetries
	requireClean := true

	return &Config{
		Library:        "libdemo",
		ReleaseVersion: "1.0.0",
		Release: Release{
			Host:  DefaultReleaseHost,
			Owner: "example",
			Repo:  "libdemo",
		},
		ManifestPath: DefaultManifestFilename,
		CacheDir:     DefaultCacheDir,
		DistDir:      DefaultDistDir,
		Workers:      DefaultWorkers,
		Timeout:      DefaultTimeout,
		Retries:      &retries,
		Exclude:      []string{"*.a", "*.pc", "*.debug", "CMakeLists.txt"},
		Bundles:      bundle.DefaultPlan(),
		Registry: Registry{
			Kind:     RegistryHTTP,
			URL:      "https://registry.example.com",
			TokenEnv: "LIBPACK_REGISTRY_TOKEN",
		},
		RequireClean: &requireClean,
		LogLevel:     "info",
		LogFormat:    string(logger.FormatConsole),
	}
}

// Load reads configuration from path, applies environment overrides and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if enabled, ok := IncludeOptionalFromEnv(); ok {
		cfg.IncludeOptional = enabled
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if cfg.Library == "" {
		return errLibraryRequired
	}

	if strings.ContainsAny(cfg.Library, `/\`) {
		return fmt.Errorf("library %q must be a plain name", cfg.Library)
	}

	if cfg.ReleaseVersion == "" {
		return errReleaseVersionRequired
	}

	if cfg.Release.Owner == "" || cfg.Release.Repo == "" {
		return errReleaseRepoRequired
	}

	if _, err := url.ParseRequestURI(cfg.Release.Host); err != nil {
		return fmt.Errorf("invalid release host: %w", err)
	}

	if cfg.Workers < 0 {
		return errInvalidWorkers
	}

	if *cfg.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", *cfg.Retries)
	}

	if err := cfg.Bundles.Validate(); err != nil {
		return err
	}

	if err := validateRegistry(&cfg.Registry); err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("unknown log level %q", cfg.LogLevel)
		}
	}

	if _, err := logger.ParseFormat(cfg.LogFormat); err != nil {
		return err
	}

	return nil
}

// applyDefaults fills unset optional fields.
func applyDefaults(cfg *Config) {
	cfg.Library = strings.TrimSpace(cfg.Library)
	cfg.ReleaseVersion = strings.TrimSpace(cfg.ReleaseVersion)

	if cfg.PipelineVersion == "" {
		cfg.PipelineVersion = cfg.ReleaseVersion
	}

	if cfg.Release.Host == "" {
		cfg.Release.Host = DefaultReleaseHost
	}

	if cfg.ManifestPath == "" {
		cfg.ManifestPath = DefaultManifestFilename
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if cfg.DistDir == "" {
		cfg.DistDir = DefaultDistDir
	}

	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retries == nil {
		retries := DefaultRetries
		cfg.Retries = &retries
	}

	if cfg.RequireClean == nil {
		requireClean := true
		cfg.RequireClean = &requireClean
	}

	if len(cfg.Bundles) == 0 {
		cfg.Bundles = bundle.DefaultPlan()
	}

	if cfg.Registry.Kind == "" {
		cfg.Registry.Kind = RegistryHTTP
	}
}

// validateRegistry checks the registry kind and address.
// An empty URL is allowed so that fetch/extract/package work without a registry.
func validateRegistry(r *Registry) error {
	switch r.Kind {
	case RegistryHTTP:
		if r.URL == "" {
			return nil
		}

		if _, err := url.ParseRequestURI(r.URL); err != nil {
			return fmt.Errorf("invalid registry url: %w", err)
		}
	case RegistryGRPC:
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnknownRegistry, r.Kind)
	}

	return nil
}

// RequireRegistry returns an error when no registry address is configured.
func (c *Config) RequireRegistry() error {
	if c.Registry.URL == "" {
		return errRegistryURLRequired
	}

	return nil
}

// RetryCount returns the configured retry count.
func (c *Config) RetryCount() int {
	if c.Retries == nil {
		return DefaultRetries
	}

	return *c.Retries
}

// CleanTreeRequired reports whether publishing is gated on a clean working tree.
func (c *Config) CleanTreeRequired() bool {
	return c.RequireClean == nil || *c.RequireClean
}

// RegistryToken reads the registry token from the configured environment variable.
func (c *Config) RegistryToken() string {
	if c.Registry.TokenEnv == "" {
		return ""
	}

	return os.Getenv(c.Registry.TokenEnv)
}

// SigningPassphrase reads the signing key passphrase from the configured environment variable.
func (c *Config) SigningPassphrase() string {
	if c.Signing.PassphraseEnv == "" {
		return ""
	}

	return os.Getenv(c.Signing.PassphraseEnv)
}

// IncludeOptionalFromEnv parses IncludeOptionalEnv.
// The second result is false when the variable is unset or empty.
func IncludeOptionalFromEnv() (bool, bool) {
	value, ok := os.LookupEnv(IncludeOptionalEnv)
	if !ok || strings.TrimSpace(value) == "" {
		return false, false
	}

	return ParseToggle(value), true
}

// ParseToggle interprets 1, true, yes and on (case-insensitive) as enabled.
func ParseToggle(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
