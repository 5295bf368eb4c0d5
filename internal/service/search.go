// Package service implements the end-to-end search pipeline: embed the
// query, retrieve a fused candidate pool, rerank with late interaction,
// and truncate to the requested size.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/hybridsearch/internal/embedder"
	"github.com/knoguchi/hybridsearch/internal/rerank"
	"github.com/knoguchi/hybridsearch/internal/vectorstore"
)

// ErrInvalidInput marks requests rejected before any network call.
var ErrInvalidInput = errors.New("invalid input")

// ErrTimeout marks searches abandoned because the aggregate deadline
// expired. No partial results are returned; a half-reranked list has
// undefined relevance semantics.
var ErrTimeout = errors.New("search deadline exceeded")

// Defaults are the per-request fallbacks applied when a request leaves a
// field unset.
type Defaults struct {
	TopK                int
	CandidateMultiplier int
	Weights             rerank.Weights

	// Timeout is the aggregate per-search deadline, independent of the
	// per-call timeouts of the embedding and index clients.
	Timeout time.Duration
}

// SearchRequest is one search invocation.
type SearchRequest struct {
	Query      string
	Collection string

	// TopK is the number of results to return. Zero takes the configured
	// default; negative values are rejected.
	TopK int

	// CandidateMultiplier sizes the retrieval pool at TopK times this
	// factor, so reranking sees good-but-not-top candidates from either
	// channel. Zero takes the default; values below 1 are rejected.
	CandidateMultiplier int

	// Weights overrides the configured score weights when non-nil.
	Weights *rerank.Weights
}

// SearchMetadata carries per-stage timings for a search.
type SearchMetadata struct {
	QueryID             string
	EmbedTimeMs         int64
	RetrievalTimeMs     int64
	RerankTimeMs        int64
	TotalTimeMs         int64
	CandidatesRetrieved int
	CandidatesScored    int
}

// SearchResponse is the ordered result list plus timing metadata.
type SearchResponse struct {
	Results  []rerank.ScoredResult
	Metadata SearchMetadata
}

// SearchService orchestrates embedder, vector store, and reranker.
// It is stateless and safe for arbitrary concurrent use.
type SearchService struct {
	embedder embedder.Embedder
	store    vectorstore.VectorStore
	reranker *rerank.Reranker
	defaults Defaults
	logger   *slog.Logger
}

// NewSearchService creates a search service.
func NewSearchService(emb embedder.Embedder, store vectorstore.VectorStore, rr *rerank.Reranker, defaults Defaults, logger *slog.Logger) *SearchService {
	if defaults.TopK <= 0 {
		defaults.TopK = 10
	}
	if defaults.CandidateMultiplier < 1 {
		defaults.CandidateMultiplier = 3
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{
		embedder: emb,
		store:    store,
		reranker: rr,
		defaults: defaults,
		logger:   logger,
	}
}

// Search runs the full pipeline for one query. Identical inputs against an
// unchanged index produce identical output ordering.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	topK, multiplier, weights, err := s.resolveOptions(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.defaults.Timeout)
	defer cancel()

	queryID := uuid.NewString()

	// Step 1: embed the query across all three backends.
	embedStart := time.Now()
	var vectors *embedder.QueryVectors
	err = s.retryTransient(ctx, func() error {
		var embedErr error
		vectors, embedErr = s.embedder.GenerateQueryVectors(ctx, req.Query)
		return embedErr
	})
	if err != nil {
		return nil, s.classify(ctx, queryID, "embed", err)
	}
	embedTime := time.Since(embedStart)

	// Step 2: fused retrieval over an oversized candidate pool.
	limit := topK * multiplier
	sparse := &vectorstore.SparseVector{}
	if vectors.Sparse != nil {
		sparse.Indices = vectors.Sparse.Indices
		sparse.Values = vectors.Sparse.Values
	}
	retrievalStart := time.Now()
	var candidates []vectorstore.Candidate
	err = s.retryTransient(ctx, func() error {
		var queryErr error
		candidates, queryErr = s.store.FusedSearch(ctx, req.Collection, vectors.Dense, sparse, limit)
		return queryErr
	})
	if err != nil {
		return nil, s.classify(ctx, queryID, "retrieve", err)
	}
	retrievalTime := time.Since(retrievalStart)

	// Step 3: late-interaction rerank, then truncate to topK.
	rerankStart := time.Now()
	results, err := s.reranker.Rerank(ctx, vectors.LateInteraction, candidates, weights)
	if err != nil {
		return nil, s.classify(ctx, queryID, "rerank", err)
	}
	rerankTime := time.Since(rerankStart)

	scored := len(results)
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Info("search completed",
		"query_id", queryID,
		"collection", req.Collection,
		"top_k", topK,
		"candidates", len(candidates),
		"scored", scored,
		"returned", len(results),
		"duration", time.Since(start),
	)

	return &SearchResponse{
		Results: results,
		Metadata: SearchMetadata{
			QueryID:             queryID,
			EmbedTimeMs:         embedTime.Milliseconds(),
			RetrievalTimeMs:     retrievalTime.Milliseconds(),
			RerankTimeMs:        rerankTime.Milliseconds(),
			TotalTimeMs:         time.Since(start).Milliseconds(),
			CandidatesRetrieved: len(candidates),
			CandidatesScored:    scored,
		},
	}, nil
}

// resolveOptions validates the request and applies defaults.
func (s *SearchService) resolveOptions(req SearchRequest) (topK, multiplier int, weights rerank.Weights, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, weights, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if req.Collection == "" {
		return 0, 0, weights, fmt.Errorf("%w: collection is required", ErrInvalidInput)
	}

	topK = req.TopK
	if topK == 0 {
		topK = s.defaults.TopK
	}
	if topK < 0 {
		return 0, 0, weights, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidInput, req.TopK)
	}

	multiplier = req.CandidateMultiplier
	if multiplier == 0 {
		multiplier = s.defaults.CandidateMultiplier
	}
	if multiplier < 1 {
		return 0, 0, weights, fmt.Errorf("%w: candidate_multiplier must be at least 1, got %d", ErrInvalidInput, req.CandidateMultiplier)
	}

	weights = s.defaults.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}
	if err := weights.Validate(); err != nil {
		return 0, 0, weights, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return topK, multiplier, weights, nil
}

// retryTransient runs fn and retries it exactly once when it fails with a
// transient (unavailable) error. Backend logic errors indicate a malformed
// request, not a transient condition; retrying those would mask bugs.
func (s *SearchService) retryTransient(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return err
	}
	s.logger.Debug("retrying after transient backend failure", "error", err)
	return fn()
}

func isTransient(err error) bool {
	return errors.Is(err, embedder.ErrBackendUnavailable) || errors.Is(err, vectorstore.ErrUnavailable)
}

// classify turns a stage failure into the caller-visible error. Deadline
// expiry always surfaces as ErrTimeout regardless of which call was in
// flight when the budget ran out.
func (s *SearchService) classify(ctx context.Context, queryID, stage string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("search timed out", "query_id", queryID, "stage", stage)
		return fmt.Errorf("%w during %s", ErrTimeout, stage)
	}
	s.logger.Error("search failed", "query_id", queryID, "stage", stage, "error", err)
	return fmt.Errorf("%s: %w", stage, err)
}
