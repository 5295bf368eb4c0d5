package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/hybridsearch/internal/vectorstore"
)

// parallelThreshold is the candidate count beyond which scoring runs on
// multiple goroutines. MaxSim is O(|Q|*|D|*dim) per candidate, so small
// batches are cheaper scored serially.
const parallelThreshold = 16

// Weights controls how the fused retrieval score and the late-interaction
// score combine into the final score. They need not sum to 1, but both
// must be non-negative.
type Weights struct {
	Fused           float32
	LateInteraction float32
}

// Validate rejects negative weights.
func (w Weights) Validate() error {
	if w.Fused < 0 || w.LateInteraction < 0 {
		return fmt.Errorf("rerank weights must be non-negative, got fused=%g late_interaction=%g", w.Fused, w.LateInteraction)
	}
	return nil
}

// ScoredResult is a reranked candidate with its component scores.
type ScoredResult struct {
	ID                   string
	Content              string
	FusedScore           float32
	LateInteractionScore float32
	FinalScore           float32
	Metadata             map[string]string
}

// Reranker scores candidates against a query's late-interaction vectors and
// orders them by the weighted combination of fused and MaxSim scores.
// It performs no I/O; candidates score independently, so large batches run
// in parallel with no shared mutable state.
type Reranker struct {
	logger *slog.Logger
}

// New creates a Reranker. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{logger: logger}
}

// Rerank applies MaxSim to every candidate and returns results ordered by
// final score descending, ties broken by late-interaction score descending,
// then by ID ascending.
//
// Candidates without stored late-interaction vectors cannot be meaningfully
// reranked and are excluded rather than scored with a default: a silent 0
// would pin them to the bottom arbitrarily and be indistinguishable from
// provably irrelevant. A candidate whose stored vectors disagree with the
// query dimension is skipped with a warning; the rest of the batch is
// unaffected.
func (r *Reranker) Rerank(ctx context.Context, queryVectors [][]float32, candidates []vectorstore.Candidate, weights Weights) ([]ScoredResult, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if len(queryVectors) == 0 {
		return nil, errors.New("rerank: no query token vectors")
	}

	scorable := make([]vectorstore.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(c.LateInteractionVectors) == 0 {
			r.logger.Debug("excluding candidate without late-interaction vectors", "id", c.ID)
			continue
		}
		scorable = append(scorable, c)
	}

	results := make([]*ScoredResult, len(scorable))

	score := func(i int) error {
		c := scorable[i]
		sim, err := MaxSim(queryVectors, c.LateInteractionVectors)
		if err != nil {
			var dimErr *DimensionError
			if errors.As(err, &dimErr) {
				r.logger.Warn("skipping candidate with mismatched vector dimensions",
					"id", c.ID,
					"query_dim", dimErr.QueryDim,
					"doc_dim", dimErr.DocDim,
				)
				return nil
			}
			return fmt.Errorf("scoring candidate %s: %w", c.ID, err)
		}
		results[i] = &ScoredResult{
			ID:                   c.ID,
			Content:              c.Content,
			FusedScore:           c.Score,
			LateInteractionScore: sim,
			FinalScore:           c.Score*weights.Fused + sim*weights.LateInteraction,
			Metadata:             c.Metadata,
		}
		return nil
	}

	if len(scorable) > parallelThreshold {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i := range scorable {
			g.Go(func() error { return score(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range scorable {
			if err := score(i); err != nil {
				return nil, err
			}
		}
	}

	scored := make([]ScoredResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			scored = append(scored, *res)
		}
	}

	// Total order keeps output deterministic and testable.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if scored[i].LateInteractionScore != scored[j].LateInteractionScore {
			return scored[i].LateInteractionScore > scored[j].LateInteractionScore
		}
		return scored[i].ID < scored[j].ID
	})

	return scored, nil
}
