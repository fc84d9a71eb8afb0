// Package embed is the single embedding-provider instantiation point. The
// cache and the retrieval engine share one Provider so the embedding
// dimension cannot drift between components.
package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Engine is the minimal inference surface a Provider needs.
type Engine interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// DimensionError reports a vector whose length violates the configured
// dimension. During construction it is fatal and prevents process start.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// Provider generates fixed-dimension embedding vectors. Exactly one Provider
// exists per process; NewProvider verifies the model's output dimension once
// at startup and every subsequent Embed re-checks it, so a drifting backend
// fails loudly instead of silently corrupting the index.
type Provider struct {
	engine Engine
	model  string
	dim    int
}

// NewProvider constructs the process-wide Provider. It performs one probe
// embedding to verify the model produces vectors of length dim; a mismatch
// returns a *DimensionError and must abort startup.
func NewProvider(ctx context.Context, engine Engine, model string, dim int) (*Provider, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	probe, err := engine.Embed(ctx, model, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("probing embedding model %s: %w", model, err)
	}
	if len(probe) != dim {
		return nil, &DimensionError{Want: dim, Got: len(probe)}
	}

	return &Provider{engine: engine, model: model, dim: dim}, nil
}

// Dimension returns the system-wide embedding length D.
func (p *Provider) Dimension() int {
	return p.dim
}

// Model returns the embedding model identifier.
func (p *Provider) Model() string {
	return p.model
}

// Embed returns the embedding vector for a single text. A vector of the
// wrong length is a construction error, never silently coerced.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.engine.Embed(ctx, p.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) != p.dim {
		return nil, &DimensionError{Want: p.dim, Got: len(vec)}
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := p.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
