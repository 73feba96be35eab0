package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/libpack/internal/cachelock"
	"github.com/oshokin/libpack/internal/config"
	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/domain/release"
	"github.com/oshokin/libpack/internal/httpretry"
	"github.com/oshokin/libpack/internal/logger"
	"github.com/oshokin/libpack/internal/service/assembler"
	"github.com/oshokin/libpack/internal/service/extractor"
	"github.com/oshokin/libpack/internal/service/fetcher"
	"github.com/oshokin/libpack/internal/service/packager"
	"github.com/oshokin/libpack/internal/service/publisher"
	"github.com/oshokin/libpack/internal/service/selector"
)

var (
	// errLibraryMismatch is returned when the manifest describes another library.
	errLibraryMismatch = errors.New("manifest library does not match configuration")
	// errNoPublisher is returned by Publish when no registry was configured.
	errNoPublisher = errors.New("no registry configured for publishing")
)

// Pipeline runs the stages of one release with one configuration.
type Pipeline struct {
	// cfg is the validated run configuration.
	cfg *config.Config
	// version is the release version being packaged.
	version string
	// variants are the manifest entries of version, in manifest order.
	variants []release.Variant
	// layout is the cache layout shared by fetch and extract.
	layout bundle.CacheLayout

	// fetcher downloads archives.
	fetcher *fetcher.Fetcher
	// extractor unpacks archives.
	extractor *extractor.Extractor
	// selector filters extracted trees.
	selector *selector.Selector
	// packager writes bundle archives.
	packager *packager.Packager
	// publisher pushes packaged bundles; nil until configured.
	publisher *publisher.Publisher
}

// Option configures a Pipeline.
type Option func(*settings)

// settings collects option values before the pipeline is built.
type settings struct {
	// source overrides the HTTP release source.
	source fetcher.Source
	// signer signs packaged archives.
	signer packager.FileSigner
	// publisher publishes packaged bundles.
	publisher *publisher.Publisher
}

// WithSource replaces the release source built from the configuration.
func WithSource(source fetcher.Source) Option {
	return func(s *settings) {
		s.source = source
	}
}

// WithSigner signs every packaged archive.
func WithSigner(signer packager.FileSigner) Option {
	return func(s *settings) {
		s.signer = signer
	}
}

// WithPublisher sets the publisher used by the publish stage.
func WithPublisher(p *publisher.Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// New creates a Pipeline for the configured release version.
// The manifest is consulted once here and never again.
func New(cfg *config.Config, manifest *release.Manifest, opts ...Option) (*Pipeline, error) {
	if manifest.Library() != cfg.Library {
		return nil, fmt.Errorf("%w: manifest has %s, configuration has %s", errLibraryMismatch, manifest.Library(), cfg.Library)
	}

	variants, err := manifest.Lookup(cfg.ReleaseVersion)
	if err != nil {
		return nil, err
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	if s.source == nil {
		s.source = fetcher.NewHTTPSource(
			cfg.Release.Host,
			cfg.Release.Owner,
			cfg.Release.Repo,
			fetcher.WithTimeout(cfg.Timeout),
			fetcher.WithPolicy(retryPolicy(cfg)),
		)
	}

	sel, err := selector.New(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	layout := bundle.CacheLayout{Root: cfg.CacheDir, Library: cfg.Library}

	var packagerOpts []packager.Option
	if s.signer != nil {
		packagerOpts = append(packagerOpts, packager.WithSigner(s.signer))
	}

	return &Pipeline{
		cfg:       cfg,
		version:   cfg.ReleaseVersion,
		variants:  variants,
		layout:    layout,
		fetcher:   fetcher.New(layout, s.source),
		extractor: extractor.New(layout),
		selector:  sel,
		packager:  packager.New(cfg.DistDir, packagerOpts...),
		publisher: s.publisher,
	}, nil
}

// Fetch downloads and verifies every variant of the release.
func (p *Pipeline) Fetch(ctx context.Context) ([]*bundle.Artifact, error) {
	var artifacts []*bundle.Artifact

	err := p.locked(ctx, func(ctx context.Context) error {
		var err error

		artifacts, _, err = p.fetchAll(ctx, false)

		return err
	})

	return artifacts, err
}

// Extract fetches, then unpacks every variant of the release.
func (p *Pipeline) Extract(ctx context.Context) ([]*bundle.Tree, error) {
	var trees []*bundle.Tree

	err := p.locked(ctx, func(ctx context.Context) error {
		var err error

		_, trees, err = p.fetchAll(ctx, true)

		return err
	})

	return trees, err
}

// Package extracts the release, assembles the bundle plan and writes one archive per bundle.
func (p *Pipeline) Package(ctx context.Context) ([]*bundle.Packaged, error) {
	var packaged []*bundle.Packaged

	err := p.locked(ctx, func(ctx context.Context) error {
		var err error

		packaged, err = p.pack(ctx)

		return err
	})

	return packaged, err
}

// Publish checks the publishing precondition, packages the release and pushes every bundle.
// Results cover every bundle once packaging succeeded; the error joins individual failures.
func (p *Pipeline) Publish(ctx context.Context) ([]publisher.Result, error) {
	if p.publisher == nil {
		return nil, errNoPublisher
	}

	// The precondition runs before any network call.
	if err := p.publisher.CheckPrecondition(ctx); err != nil {
		return nil, err
	}

	packaged, err := p.Package(ctx)
	if err != nil {
		return nil, err
	}

	return p.publisher.PublishAll(logger.WithKV(ctx, "version", p.version), packaged)
}

// locked runs fn while holding the cache lock.
func (p *Pipeline) locked(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = logger.WithKV(ctx, "version", p.version)

	lock, err := cachelock.Acquire(ctx, p.cfg.CacheDir)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release cache lock", "path", lock.Path(), "error", releaseErr)
		}
	}()

	return fn(ctx)
}

// pack selects, assembles and packages extracted trees.
func (p *Pipeline) pack(ctx context.Context) ([]*bundle.Packaged, error) {
	_, trees, err := p.fetchAll(ctx, true)
	if err != nil {
		return nil, err
	}

	sets := make(map[string]bundle.FileSet, len(trees))

	for _, tree := range trees {
		files, selectErr := p.selector.Select(tree)
		if selectErr != nil {
			return nil, fmt.Errorf("select %s: %w", tree.Variant.PlatformTag, selectErr)
		}

		logger.DebugKV(ctx, "Selected files", "platform", tree.Variant.PlatformTag, "files", len(files))

		sets[tree.Variant.PlatformTag] = files
	}

	meta := bundle.Metadata{
		Library:         p.cfg.Library,
		LibraryVersion:  p.version,
		PipelineVersion: p.cfg.PipelineVersion,
	}

	bundles, err := assembler.New(meta, p.cfg.IncludeOptional).Assemble(ctx, p.cfg.Bundles, sets)
	if err != nil {
		return nil, err
	}

	packaged := make([]*bundle.Packaged, 0, len(bundles))

	for _, b := range bundles {
		pkg, packageErr := p.packager.Package(ctx, b)
		if packageErr != nil {
			return nil, packageErr
		}

		packaged = append(packaged, pkg)
	}

	return packaged, nil
}

// fetchAll fetches, and optionally extracts, every variant behind a bounded pool.
// Results are indexed by manifest position.
func (p *Pipeline) fetchAll(ctx context.Context, extract bool) ([]*bundle.Artifact, []*bundle.Tree, error) {
	artifacts := make([]*bundle.Artifact, len(p.variants))

	var trees []*bundle.Tree
	if extract {
		trees = make([]*bundle.Tree, len(p.variants))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Workers)

	for i, variant := range p.variants {
		group.Go(func() error {
			artifact, err := p.fetcher.Fetch(groupCtx, p.version, variant)
			if err != nil {
				return err
			}

			artifacts[i] = artifact

			if !extract {
				return nil
			}

			tree, err := p.extractor.Extract(groupCtx, artifact)
			if err != nil {
				return err
			}

			trees[i] = tree

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.ErrorKV(ctx, "Stage failed", "error", err)

		return nil, nil, err
	}

	logger.InfoKV(ctx, "Variants ready", "variants", len(p.variants), "extracted", extract)

	return artifacts, trees, nil
}

// retryPolicy builds the HTTP retry policy of cfg.
func retryPolicy(cfg *config.Config) httpretry.Policy {
	return httpretry.DefaultPolicy().WithRetries(cfg.RetryCount())
}
