package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/knoguchi/hybridsearch/internal/embedder"
	"github.com/knoguchi/hybridsearch/internal/rerank"
	"github.com/knoguchi/hybridsearch/internal/vectorstore"
)

type fakeEmbedder struct {
	calls int
	fn    func(ctx context.Context, call int) (*embedder.QueryVectors, error)
}

func (f *fakeEmbedder) GenerateQueryVectors(ctx context.Context, text string) (*embedder.QueryVectors, error) {
	f.calls++
	return f.fn(ctx, f.calls)
}

type fakeStore struct {
	calls     int
	lastLimit int
	fn        func(ctx context.Context, call int) ([]vectorstore.Candidate, error)
}

func (f *fakeStore) FusedSearch(ctx context.Context, collection string, dense []float32, sparse *vectorstore.SparseVector, limit int) ([]vectorstore.Candidate, error) {
	f.calls++
	f.lastLimit = limit
	return f.fn(ctx, f.calls)
}

func (f *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}

func (f *fakeStore) Healthy(ctx context.Context) error { return nil }

func queryVectors() *embedder.QueryVectors {
	return &embedder.QueryVectors{
		Dense:           []float32{1, 0},
		Sparse:          &embedder.SparseEmbedding{Indices: []uint32{1}, Values: []float32{0.5}},
		LateInteraction: [][]float32{{1, 0}, {0, 1}},
	}
}

func okEmbedder() *fakeEmbedder {
	return &fakeEmbedder{fn: func(context.Context, int) (*embedder.QueryVectors, error) {
		return queryVectors(), nil
	}}
}

func candidateSet(n int) []vectorstore.Candidate {
	candidates := make([]vectorstore.Candidate, n)
	for i := range candidates {
		candidates[i] = vectorstore.Candidate{
			ID:                     fmt.Sprintf("cand-%02d", i),
			Score:                  1 - float32(i)/float32(n),
			Content:                fmt.Sprintf("document %d", i),
			LateInteractionVectors: [][]float32{{1, 0}},
		}
	}
	return candidates
}

func okStore(n int) *fakeStore {
	return &fakeStore{fn: func(context.Context, int) ([]vectorstore.Candidate, error) {
		return candidateSet(n), nil
	}}
}

func newService(emb embedder.Embedder, store vectorstore.VectorStore, defaults Defaults) *SearchService {
	if defaults.Weights == (rerank.Weights{}) {
		defaults.Weights = rerank.Weights{Fused: 0.4, LateInteraction: 0.6}
	}
	return NewSearchService(emb, store, rerank.New(nil), defaults, nil)
}

func TestSearch_ValidationRejectsBeforeNetworkCalls(t *testing.T) {
	emb := okEmbedder()
	store := okStore(3)
	svc := newService(emb, store, Defaults{})

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"empty query", SearchRequest{Query: "  ", Collection: "docs"}},
		{"empty collection", SearchRequest{Query: "hello"}},
		{"negative topK", SearchRequest{Query: "hello", Collection: "docs", TopK: -1}},
		{"negative multiplier", SearchRequest{Query: "hello", Collection: "docs", CandidateMultiplier: -2}},
		{"negative weight", SearchRequest{Query: "hello", Collection: "docs", Weights: &rerank.Weights{Fused: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(t.Context(), tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if emb.calls != 0 || store.calls != 0 {
		t.Errorf("invalid input must be rejected before any backend call, got %d embed / %d store calls",
			emb.calls, store.calls)
	}
}

func TestSearch_OverfetchesByMultiplier(t *testing.T) {
	store := okStore(3)
	svc := newService(okEmbedder(), store, Defaults{TopK: 10, CandidateMultiplier: 3})

	_, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs", TopK: 4, CandidateMultiplier: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastLimit != 20 {
		t.Errorf("retrieval limit = %d, want topK*multiplier = 20", store.lastLimit)
	}

	// Unset values fall back to the configured defaults.
	_, err = svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastLimit != 30 {
		t.Errorf("retrieval limit = %d, want default 10*3 = 30", store.lastLimit)
	}
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	svc := newService(okEmbedder(), okStore(9), Defaults{})

	resp, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs", TopK: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Metadata.CandidatesRetrieved != 9 || resp.Metadata.CandidatesScored != 9 {
		t.Errorf("metadata = %+v, want 9 retrieved and scored", resp.Metadata)
	}
	// All candidates here share the same MaxSim, so fused score decides.
	if resp.Results[0].ID != "cand-00" || resp.Results[1].ID != "cand-01" {
		t.Errorf("unexpected top-2: %s, %s", resp.Results[0].ID, resp.Results[1].ID)
	}
}

func TestSearch_ExcludesCandidatesWithoutStoredVectors(t *testing.T) {
	store := &fakeStore{fn: func(context.Context, int) ([]vectorstore.Candidate, error) {
		return []vectorstore.Candidate{
			{ID: "scored", Score: 0.4, LateInteractionVectors: [][]float32{{1, 0}}},
			{ID: "bare", Score: 0.9},
		}, nil
	}}
	svc := newService(okEmbedder(), store, Defaults{})

	resp, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs", TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "scored" {
		t.Errorf("expected only the candidate with stored vectors, got %+v", resp.Results)
	}
}

func TestSearch_RetriesOnceOnUnavailable(t *testing.T) {
	emb := &fakeEmbedder{fn: func(_ context.Context, call int) (*embedder.QueryVectors, error) {
		if call == 1 {
			return nil, fmt.Errorf("dense: %w", embedder.ErrBackendUnavailable)
		}
		return queryVectors(), nil
	}}
	store := &fakeStore{fn: func(_ context.Context, call int) ([]vectorstore.Candidate, error) {
		if call == 1 {
			return nil, fmt.Errorf("query: %w", vectorstore.ErrUnavailable)
		}
		return candidateSet(2), nil
	}}
	svc := newService(emb, store, Defaults{})

	resp, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs", TopK: 2})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if emb.calls != 2 {
		t.Errorf("embedder calls = %d, want 2", emb.calls)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2", store.calls)
	}
	if len(resp.Results) != 2 {
		t.Errorf("expected results after retry, got %d", len(resp.Results))
	}
}

func TestSearch_UnavailableSurfacesAfterOneRetry(t *testing.T) {
	emb := &fakeEmbedder{fn: func(context.Context, int) (*embedder.QueryVectors, error) {
		return nil, fmt.Errorf("dense: %w", embedder.ErrBackendUnavailable)
	}}
	svc := newService(emb, okStore(1), Defaults{})

	_, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs"})
	if !errors.Is(err, embedder.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if emb.calls != 2 {
		t.Errorf("embedder calls = %d, want exactly 2 (one retry)", emb.calls)
	}
}

func TestSearch_NeverRetriesBackendErrors(t *testing.T) {
	emb := &fakeEmbedder{fn: func(context.Context, int) (*embedder.QueryVectors, error) {
		return nil, &embedder.BackendError{Status: 422, Body: "bad request"}
	}}
	svc := newService(emb, okStore(1), Defaults{})

	_, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs"})
	var backendErr *embedder.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("embedder calls = %d, backend logic errors must not be retried", emb.calls)
	}
}

func TestSearch_NeverRetriesIndexErrors(t *testing.T) {
	store := &fakeStore{fn: func(context.Context, int) ([]vectorstore.Candidate, error) {
		return nil, &vectorstore.IndexError{Message: "collection not found"}
	}}
	svc := newService(okEmbedder(), store, Defaults{})

	_, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "missing"})
	var indexErr *vectorstore.IndexError
	if !errors.As(err, &indexErr) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, index logic errors must not be retried", store.calls)
	}
}

func TestSearch_DeadlineProducesTimeoutNotPartialResults(t *testing.T) {
	// One backend stalls past the aggregate deadline.
	emb := &fakeEmbedder{fn: func(ctx context.Context, _ int) (*embedder.QueryVectors, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newService(emb, okStore(3), Defaults{Timeout: 50 * time.Millisecond})

	start := time.Now()
	resp, err := svc.Search(t.Context(), SearchRequest{Query: "hello", Collection: "docs"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if resp != nil {
		t.Error("a timed-out search must not return partial results")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("search did not respect the deadline, took %v", elapsed)
	}
}

func TestSearch_Idempotent(t *testing.T) {
	svc := newService(okEmbedder(), okStore(6), Defaults{})
	req := SearchRequest{Query: "hello", Collection: "docs", TopK: 4}

	first, err := svc.Search(t.Context(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Search(t.Context(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.Results) != len(second.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.ID != b.ID || a.FinalScore != b.FinalScore {
			t.Errorf("result %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestSearch_WeightOverridesApply(t *testing.T) {
	store := &fakeStore{fn: func(context.Context, int) ([]vectorstore.Candidate, error) {
		return []vectorstore.Candidate{
			// MaxSim = avg(cos([1,0],[3,4]), cos([0,1],[3,4])) = 0.7
			{ID: "a", Score: 0.85, LateInteractionVectors: [][]float32{{3, 4}}},
		}, nil
	}}
	svc := newService(okEmbedder(), store, Defaults{})

	resp, err := svc.Search(t.Context(), SearchRequest{
		Query:      "hello",
		Collection: "docs",
		Weights:    &rerank.Weights{Fused: 1, LateInteraction: 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := resp.Results[0]
	if res.FinalScore != res.FusedScore {
		t.Errorf("with zero late weight FinalScore = %v, want fused %v", res.FinalScore, res.FusedScore)
	}
}
