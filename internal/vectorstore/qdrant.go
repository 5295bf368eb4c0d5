package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxRecvMsgSize allows for candidate pages carrying late-interaction
// payloads, which are an order of magnitude larger than plain content.
const maxRecvMsgSize = 32 * 1024 * 1024

// QdrantStore implements VectorStore using Qdrant's Query API.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// FusedSearch runs one fused query against collection: a dense
// nearest-neighbor prefetch and a sparse lexical prefetch, each asking for
// limit candidates, merged by the index with reciprocal rank fusion.
func (s *QdrantStore) FusedSearch(ctx context.Context, collection string, dense []float32, sparse *SparseVector, limit int) ([]Candidate, error) {
	if sparse == nil {
		sparse = &SparseVector{}
	}
	prefetchLimit := uint64(limit)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(dense),
			Using: qdrant.PtrOf(DenseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
		{
			Query: qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
			Using: qdrant.PtrOf(SparseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyIndexError("fused query", err)
	}

	candidates := make([]Candidate, 0, len(response))
	for _, point := range response {
		candidate := Candidate{
			ID:       pointID(point.Id),
			Score:    point.Score,
			Metadata: make(map[string]string),
		}

		for k, v := range point.Payload {
			switch k {
			case ContentPayloadKey:
				candidate.Content = v.GetStringValue()
			case MultiVectorsPayloadKey:
				candidate.LateInteractionVectors = decodeMultiVectors(v)
			default:
				if sv := v.GetStringValue(); sv != "" {
					candidate.Metadata[k] = sv
				}
			}
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, classifyIndexError("collection exists", err)
	}
	return exists, nil
}

// Healthy probes the Qdrant instance.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return classifyIndexError("health check", err)
	}
	return nil
}

// pointID renders a Qdrant point ID. Points are indexed with UUID IDs;
// numeric IDs are rendered decimal as a fallback.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// decodeMultiVectors converts a payload value holding a list of token
// vectors (list of lists of doubles) into [][]float32. Returns nil when the
// value is not that shape; the reranker excludes such candidates.
func decodeMultiVectors(v *qdrant.Value) [][]float32 {
	outer := v.GetListValue()
	if outer == nil || len(outer.Values) == 0 {
		return nil
	}

	vectors := make([][]float32, 0, len(outer.Values))
	for _, row := range outer.Values {
		inner := row.GetListValue()
		if inner == nil {
			return nil
		}
		vec := make([]float32, len(inner.Values))
		for i, x := range inner.Values {
			vec[i] = float32(x.GetDoubleValue())
		}
		vectors = append(vectors, vec)
	}
	return vectors
}

// classifyIndexError maps gRPC failures onto the store's error taxonomy.
// Transport failures become ErrUnavailable (retryable); context expiry
// passes through so callers can report a deadline; everything else is a
// terminal IndexError.
func classifyIndexError(op string, err error) error {
	code := status.Code(err)
	switch code {
	case codes.Unavailable:
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, status.Convert(err).Message())
	case codes.Canceled, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, err)
	default:
		return &IndexError{Code: code, Message: fmt.Sprintf("%s: %s", op, status.Convert(err).Message())}
	}
}

// Ensure QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)
