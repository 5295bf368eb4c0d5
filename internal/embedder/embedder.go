// Package embedder provides clients for the embedding backends and the
// concurrent fan-out that turns one query text into the full set of vector
// representations used by hybrid retrieval.
package embedder

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Kind identifies one of the three embedding representations.
type Kind string

const (
	KindDense           Kind = "dense"
	KindSparse          Kind = "sparse"
	KindLateInteraction Kind = "late_interaction"
)

// SparseEmbedding is a sparse lexical vector as (index, value) pairs.
// Indices and Values always have equal length.
type SparseEmbedding struct {
	Indices []uint32
	Values  []float32
}

// QueryVectors holds every representation of a single query text.
// Values are immutable once built and safe to share read-only.
type QueryVectors struct {
	Dense           []float32
	Sparse          *SparseEmbedding
	LateInteraction [][]float32
}

// DenseEmbedder produces a single pooled vector for a text.
type DenseEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SparseEmbedder produces a sparse lexical vector for a text.
type SparseEmbedder interface {
	Embed(ctx context.Context, text string) (*SparseEmbedding, error)
}

// LateInteractionEmbedder produces one vector per token for a text.
type LateInteractionEmbedder interface {
	Embed(ctx context.Context, text string) ([][]float32, error)
}

// Embedder generates the full set of query vectors for a text.
type Embedder interface {
	GenerateQueryVectors(ctx context.Context, text string) (*QueryVectors, error)
}

// EmbedError reports which embedding backend failed.
type EmbedError struct {
	Kind Kind
	Err  error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("%s embedding failed: %v", e.Kind, e.Err)
}

func (e *EmbedError) Unwrap() error { return e.Err }

// FanoutEmbedder calls the three embedding backends concurrently and joins
// the results. A failure on any backend fails the whole call; partial
// vectors are never returned because a missing channel would silently
// degrade fusion quality.
type FanoutEmbedder struct {
	dense  DenseEmbedder
	sparse SparseEmbedder
	late   LateInteractionEmbedder
}

// NewFanoutEmbedder creates an embedder over the three backend clients.
func NewFanoutEmbedder(dense DenseEmbedder, sparse SparseEmbedder, late LateInteractionEmbedder) *FanoutEmbedder {
	return &FanoutEmbedder{
		dense:  dense,
		sparse: sparse,
		late:   late,
	}
}

// GenerateQueryVectors embeds text with all three backends in parallel.
// Each backend round-trip is 50-400ms, so the calls must not be serial.
func (f *FanoutEmbedder) GenerateQueryVectors(ctx context.Context, text string) (*QueryVectors, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: empty text")
	}

	vectors := &QueryVectors{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dense, err := f.dense.Embed(gctx, text)
		if err != nil {
			return &EmbedError{Kind: KindDense, Err: err}
		}
		vectors.Dense = dense
		return nil
	})

	g.Go(func() error {
		sparse, err := f.sparse.Embed(gctx, text)
		if err != nil {
			return &EmbedError{Kind: KindSparse, Err: err}
		}
		vectors.Sparse = sparse
		return nil
	})

	g.Go(func() error {
		late, err := f.late.Embed(gctx, text)
		if err != nil {
			return &EmbedError{Kind: KindLateInteraction, Err: err}
		}
		vectors.LateInteraction = late
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A late-interaction model emits at least one token vector for any
	// non-empty input; an empty set here means the backend misbehaved.
	if len(vectors.LateInteraction) == 0 {
		return nil, &EmbedError{
			Kind: KindLateInteraction,
			Err:  fmt.Errorf("backend returned no token vectors"),
		}
	}

	return vectors, nil
}

// Ensure FanoutEmbedder implements Embedder.
var _ Embedder = (*FanoutEmbedder)(nil)
