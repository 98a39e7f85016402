// Package resolve finds an image URL for a catalog item by asking an ordered
// list of resolvers until one answers.
//
//	chain := resolve.NewChain([]resolve.Resolver{
//		resolve.NewIndexResolver(images),
//		resolve.NewDirectory(listingURL),
//	}, resolve.WithLogger(logger))
//	url, ok := chain.Resolve(ctx, item)
//
// A resolver that fails (network error, bad status) is logged and treated
// exactly like a miss; the caller only ever sees "found" or "unavailable".
package resolve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/itembot/catalog"
)

// ErrNoImage is returned by a Resolver that has no image for the item.
var ErrNoImage = errors.New("resolve: no image")

// Resolver is one tier of the chain.
type Resolver interface {
	// Name identifies the tier in logs.
	Name() string
	// TryResolve returns a direct image URL, ErrNoImage on a clean miss,
	// or any other error when the tier could not answer.
	TryResolve(ctx context.Context, item catalog.Item) (string, error)
}

// Chain tries resolvers in order.
type Chain struct {
	tiers  []Resolver
	logger *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for tier failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// NewChain returns a chain over tiers, tried in slice order.
func NewChain(tiers []Resolver, opts ...Option) *Chain {
	c := &Chain{
		tiers:  append([]Resolver(nil), tiers...),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the first URL any tier produces. Later tiers are never
// consulted once one answers.
func (c *Chain) Resolve(ctx context.Context, item catalog.Item) (string, bool) {
	for _, r := range c.tiers {
		u, err := r.TryResolve(ctx, item)
		if err == nil && u != "" {
			c.logger.DebugContext(ctx, "image resolved",
				"tier", r.Name(), "item", item.ID)
			return u, true
		}
		if err != nil && !errors.Is(err, ErrNoImage) {
			c.logger.WarnContext(ctx, "image tier failed, treating as miss",
				"tier", r.Name(), "item", item.ID, "error", err)
		}
	}
	return "", false
}

// IndexResolver answers from the precomputed image index. It never touches
// the network.
type IndexResolver struct {
	index *catalog.Index
}

// NewIndexResolver wraps an index.
func NewIndexResolver(index *catalog.Index) *IndexResolver {
	return &IndexResolver{index: index}
}

func (r *IndexResolver) Name() string { return "index" }

func (r *IndexResolver) TryResolve(_ context.Context, item catalog.Item) (string, error) {
	if u, ok := r.index.Lookup(item.ID); ok && u != "" {
		return u, nil
	}
	return "", ErrNoImage
}
