// Package rerank implements late-interaction reranking of fused retrieval
// candidates using token-level maximum-similarity (MaxSim) scoring.
package rerank

import (
	"errors"
	"fmt"
	"math"
)

// DimensionError reports a dimension disagreement between query and stored
// document token vectors. It is a data-integrity defect, never retried.
type DimensionError struct {
	QueryDim int
	DocDim   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("token vector dimension mismatch: query %d, document %d", e.QueryDim, e.DocDim)
}

// MaxSim computes the late-interaction relevance between a query's token
// vectors and a document's token vectors: for each query token, the best
// cosine similarity over document tokens, averaged over query tokens.
//
// Both sets must be non-empty and share one dimension. The result is in
// [-1, 1] when all vectors have non-zero norm; a zero-norm vector
// contributes 0 to any pairing.
func MaxSim(query, doc [][]float32) (float32, error) {
	if len(query) == 0 || len(doc) == 0 {
		return 0, errors.New("maxsim: empty token vector set")
	}

	dim := len(query[0])
	for _, q := range query {
		if len(q) != dim {
			return 0, &DimensionError{QueryDim: dim, DocDim: len(q)}
		}
	}
	for _, d := range doc {
		if len(d) != dim {
			return 0, &DimensionError{QueryDim: dim, DocDim: len(d)}
		}
	}

	var sum float64
	for _, q := range query {
		best := math.Inf(-1)
		for _, d := range doc {
			if sim := cosine(q, d); sim > best {
				best = sim
			}
		}
		sum += best
	}

	return float32(sum / float64(len(query))), nil
}

// cosine returns the cosine similarity of two equal-length vectors,
// accumulating in float64. A zero-norm operand yields 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
