package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	registryapi "github.com/oshokin/libpack/internal/api/grpc/registry"
	"github.com/oshokin/libpack/internal/config"
	"github.com/oshokin/libpack/internal/logger"
	"github.com/oshokin/libpack/internal/report"
	"github.com/oshokin/libpack/internal/repository/manifest"
	"github.com/oshokin/libpack/internal/service/packager"
	"github.com/oshokin/libpack/internal/service/publisher"
	"github.com/oshokin/libpack/internal/service/signer"
)

// Stage names a pipeline command.
type Stage string

const (
	// StageFetch downloads and verifies archives.
	StageFetch Stage = "fetch"
	// StageExtract also unpacks them.
	StageExtract Stage = "extract"
	// StagePackage also writes bundle archives.
	StagePackage Stage = "package"
	// StagePublish also pushes the bundles.
	StagePublish Stage = "publish"
)

// errUnknownStage is returned for stages other than the Stage constants.
var errUnknownStage = errors.New("unknown stage")

// Options controls a pipeline command.
type Options struct {
	// ConfigPath is the libpack.yaml location.
	ConfigPath string
	// Stage is the last stage to run.
	Stage Stage
	// IncludeOptional overrides the optional bundle toggle when set.
	IncludeOptional *bool
	// LogLevel overrides the configured log level when not empty.
	LogLevel string
	// LogFormat overrides the configured log format when not empty.
	LogFormat string
	// WorkDir is the git working tree checked before publishing; empty means the current directory.
	WorkDir string
	// Output receives the publish report; nil means standard output.
	Output io.Writer
}

// Run loads the configuration and the release manifest and runs the pipeline up to opts.Stage.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err = logger.Configure(firstNonEmpty(opts.LogLevel, cfg.LogLevel), firstNonEmpty(opts.LogFormat, cfg.LogFormat)); err != nil {
		return err
	}

	if opts.IncludeOptional != nil {
		cfg.IncludeOptional = *opts.IncludeOptional
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, string(opts.Stage))

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load release manifest: %w", err)
	}

	var pipelineOpts []Option

	switch opts.Stage {
	case StageFetch, StageExtract:
	case StagePackage, StagePublish:
		if cfg.Signing.KeyFile != "" {
			s, signErr := signer.Load(cfg.Signing.KeyFile, cfg.SigningPassphrase())
			if signErr != nil {
				return signErr
			}

			keyPath, exportErr := exportPublicKey(cfg, s)
			if exportErr != nil {
				return exportErr
			}

			logger.InfoKV(ctx, "Signing bundles", "key_id", s.KeyID(), "public_key", keyPath)

			pipelineOpts = append(pipelineOpts, WithSigner(s))
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownStage, opts.Stage)
	}

	if opts.Stage == StagePublish {
		pub, closeRegistry, pubErr := newPublisher(ctx, cfg, opts.WorkDir)
		if pubErr != nil {
			return pubErr
		}
		defer closeRegistry()

		pipelineOpts = append(pipelineOpts, WithPublisher(pub))
	}

	p, err := New(cfg, m, pipelineOpts...)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Starting pipeline",
		"library", cfg.Library,
		"version", cfg.ReleaseVersion,
		"pipeline_version", cfg.PipelineVersion,
		"include_optional", cfg.IncludeOptional,
	)

	switch opts.Stage {
	case StageFetch:
		_, err = p.Fetch(ctx)
	case StageExtract:
		_, err = p.Extract(ctx)
	case StagePackage:
		_, err = p.Package(ctx)
	case StagePublish:
		err = publishAndReport(ctx, p, opts.Output)
	}

	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Pipeline finished", "stage", opts.Stage)

	return nil
}

// exportPublicKey writes the signer's public key next to the bundle archives.
func exportPublicKey(cfg *config.Config, s *signer.Signer) (string, error) {
	if err := os.MkdirAll(cfg.DistDir, packager.ExecutableFileMode); err != nil {
		return "", fmt.Errorf("create dist directory: %w", err)
	}

	path := filepath.Join(cfg.DistDir, cfg.Library+signer.PublicKeyExt)
	if err := s.WritePublicKey(path); err != nil {
		return "", err
	}

	return path, nil
}

// publishAndReport publishes and renders the per-bundle report.
func publishAndReport(ctx context.Context, p *Pipeline, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}

	results, err := p.Publish(ctx)
	if results == nil {
		return err
	}

	if renderErr := report.Render(out, results); renderErr != nil {
		logger.Warnf(ctx, "Failed to render publish report: %v", renderErr)
	}

	rows := report.Rows(results)
	logger.InfoKV(ctx, "Publish finished", "summary", report.Summary(rows))

	return err
}

// newPublisher builds the configured registry client and the clean-tree gate.
// The returned function releases the registry connection.
func newPublisher(ctx context.Context, cfg *config.Config, workDir string) (*publisher.Publisher, func(), error) {
	if err := cfg.RequireRegistry(); err != nil {
		return nil, nil, err
	}

	var opts []publisher.Option
	if cfg.CleanTreeRequired() {
		opts = append(opts, publisher.WithWorkTree(publisher.NewGitWorkTree(workDir)))
	}

	switch cfg.Registry.Kind {
	case config.RegistryGRPC:
		client, err := registryapi.Dial(ctx, cfg.Registry.URL,
			registryapi.WithCallTimeout(cfg.Timeout),
			registryapi.WithMaxMessageSize(cfg.Registry.MaxMessageSize),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create registry client: %w", err)
		}

		closeClient := func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.WarnKV(ctx, "Failed to close registry connection", "error", closeErr)
			}
		}

		return publisher.New(client, opts...), closeClient, nil
	default:
		registry, err := publisher.NewHTTPRegistry(
			cfg.Registry.URL,
			publisher.WithToken(cfg.RegistryToken()),
			publisher.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			publisher.WithPolicy(retryPolicy(cfg)),
		)
		if err != nil {
			return nil, nil, err
		}

		return publisher.New(registry, opts...), func() {}, nil
	}
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
