// Package vectorstore provides read-only access to the vector index that
// serves fused dense+sparse candidate retrieval.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Vector field names inside a hybrid collection.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// Payload keys on indexed points. Each point stores its text content and
// its late-interaction token vectors so candidates arrive with everything
// reranking needs, without a second round-trip.
const (
	ContentPayloadKey      = "content"
	MultiVectorsPayloadKey = "colbert_vectors"
)

// ErrUnavailable marks transport-level index failures. Callers may retry
// these once; see the search pipeline's retry policy.
var ErrUnavailable = errors.New("vector index unavailable")

// IndexError is a non-transient failure reported by the index, typically a
// malformed request or a missing collection. It is never retried.
type IndexError struct {
	Code    codes.Code
	Message string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index error (%s): %s", e.Code, e.Message)
}

// SparseVector represents a sparse vector with indices and values.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Candidate is one fused retrieval result. Score is the fused
// (reciprocal-rank) score assigned by the index; LateInteractionVectors is
// nil when the point was indexed without them.
type Candidate struct {
	ID                     string
	Score                  float32
	Content                string
	LateInteractionVectors [][]float32
	Metadata               map[string]string
}

// VectorStore defines the retrieval operations the search pipeline needs.
// This service never creates, alters, or deletes collections; the index is
// an independently-owned store accessed read-only.
type VectorStore interface {
	// FusedSearch runs one fused query with a dense and a sparse prefetch
	// channel, merged by reciprocal rank fusion. Both the per-channel
	// candidate pool and the fused result list are capped at limit;
	// callers size limit as topK times their candidate multiplier.
	FusedSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, limit int) ([]Candidate, error)

	// CollectionExists checks whether a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// Healthy probes the index.
	Healthy(ctx context.Context) error
}
