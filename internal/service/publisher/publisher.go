package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/libpack/internal/domain/bundle"
	"github.com/oshokin/libpack/internal/logger"
)

// Registry accepts packaged bundles.
type Registry interface {
	Push(ctx context.Context, packaged *bundle.Packaged) (*bundle.Receipt, error)
}

// WorkTree checks the publishing precondition.
type WorkTree interface {
	EnsureClean(ctx context.Context) error
}

// Result is the outcome of publishing one bundle.
type Result struct {
	// Bundle is the bundle name.
	Bundle string
	// Receipt is set on success.
	Receipt *bundle.Receipt
	// Err is set on failure.
	Err error
}

// Publisher pushes bundles to one registry.
type Publisher struct {
	// registry receives the bundles.
	registry Registry
	// tree gates publishing; nil disables the gate.
	tree WorkTree
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithWorkTree enables the clean-tree gate.
func WithWorkTree(tree WorkTree) Option {
	return func(p *Publisher) {
		p.tree = tree
	}
}

// New creates a Publisher for registry.
func New(registry Registry, opts ...Option) *Publisher {
	p := &Publisher{registry: registry}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CheckPrecondition verifies the working tree without publishing anything.
func (p *Publisher) CheckPrecondition(ctx context.Context) error {
	if p.tree == nil {
		return nil
	}

	if err := p.tree.EnsureClean(ctx); err != nil {
		if errors.Is(err, bundle.ErrPublishPrecondition) {
			return err
		}

		return fmt.Errorf("%w: %w", bundle.ErrPublishPrecondition, err)
	}

	return nil
}

// Publish checks the precondition and pushes one bundle.
func (p *Publisher) Publish(ctx context.Context, packaged *bundle.Packaged) (*bundle.Receipt, error) {
	if err := p.CheckPrecondition(ctx); err != nil {
		return nil, err
	}

	return p.push(ctx, packaged)
}

// PublishAll checks the precondition once, then pushes every bundle in order.
// The returned error joins the failures; results always cover every bundle
// once the precondition passed.
func (p *Publisher) PublishAll(ctx context.Context, packaged []*bundle.Packaged) ([]Result, error) {
	if err := p.CheckPrecondition(ctx); err != nil {
		return nil, err
	}

	var (
		results = make([]Result, 0, len(packaged))
		errs    []error
	)

	for _, pkg := range packaged {
		receipt, err := p.push(ctx, pkg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", pkg.Bundle.Name, err))
		}

		results = append(results, Result{Bundle: pkg.Bundle.Name, Receipt: receipt, Err: err})
	}

	return results, errors.Join(errs...)
}

// push sends one bundle and logs the outcome.
func (p *Publisher) push(ctx context.Context, packaged *bundle.Packaged) (*bundle.Receipt, error) {
	ctx = logger.WithKV(ctx, "bundle", packaged.Bundle.Name)

	receipt, err := p.registry.Push(ctx, packaged)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to publish bundle", "error", err)

		return nil, err
	}

	if receipt.AlreadyPublished {
		logger.InfoKV(ctx, "Bundle was already published", "id", receipt.ID, "location", receipt.Location)
	} else {
		logger.InfoKV(ctx, "Published bundle", "id", receipt.ID, "location", receipt.Location)
	}

	return receipt, nil
}
