package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultEmbedTimeout bounds a single embedding round-trip.
	DefaultEmbedTimeout = 10 * time.Second

	embedPath  = "/embed/single"
	healthPath = "/health"
)

// ErrBackendUnavailable marks transport-level failures (connection refused,
// timeout). Callers may retry these; see the search pipeline's retry policy.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// BackendError is a non-2xx or undecodable response from an embedding
// backend. It indicates a malformed request or a backend defect and is
// never retried.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embedding backend error (status %d): %s", e.Status, e.Body)
}

// FastEmbedConfig holds configuration for a fastembed service client.
type FastEmbedConfig struct {
	// BaseURL is the service base URL (e.g. http://localhost:8001).
	BaseURL string

	// HTTPClient is an optional custom HTTP client. When nil, a client
	// with DefaultEmbedTimeout is used.
	HTTPClient *http.Client
}

// fastembedClient is the shared transport for the three typed clients.
// The backends expose the same contract and differ only in the shape of
// the returned embedding.
type fastembedClient struct {
	baseURL string
	client  *http.Client
}

func newFastembedClient(cfg FastEmbedConfig) fastembedClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultEmbedTimeout}
	}
	return fastembedClient{baseURL: cfg.BaseURL, client: client}
}

// embedRequest is the request body for the /embed/single endpoint.
type embedRequest struct {
	Texts string `json:"texts"`
}

// embedSingle posts text to the backend and decodes the "embedding" field
// of the response into out.
func (c fastembedClient) embedSingle(ctx context.Context, text string, out any) error {
	if text == "" {
		return fmt.Errorf("embed: empty text")
	}

	jsonBody, err := json.Marshal(embedRequest{Texts: text})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BackendError{Status: resp.StatusCode, Body: string(body)}
	}

	var envelope struct {
		Embedding json.RawMessage `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &BackendError{Status: resp.StatusCode, Body: fmt.Sprintf("undecodable response: %v", err)}
	}
	if err := json.Unmarshal(envelope.Embedding, out); err != nil {
		return &BackendError{Status: resp.StatusCode, Body: fmt.Sprintf("unexpected embedding shape: %v", err)}
	}

	return nil
}

// Healthy probes the backend's /health endpoint.
func (c fastembedClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BackendError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// DenseClient talks to a fastembed dense embedding service.
type DenseClient struct {
	fastembedClient
}

// NewDenseClient creates a client for a dense embedding backend.
func NewDenseClient(cfg FastEmbedConfig) *DenseClient {
	return &DenseClient{newFastembedClient(cfg)}
}

// Embed returns the pooled dense vector for text.
func (c *DenseClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var raw []float64
	if err := c.embedSingle(ctx, text, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &BackendError{Status: http.StatusOK, Body: "empty dense embedding"}
	}

	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// SparseClient talks to a fastembed sparse (BM25-style) embedding service.
type SparseClient struct {
	fastembedClient
}

// NewSparseClient creates a client for a sparse embedding backend.
func NewSparseClient(cfg FastEmbedConfig) *SparseClient {
	return &SparseClient{newFastembedClient(cfg)}
}

// Embed returns the sparse lexical vector for text.
func (c *SparseClient) Embed(ctx context.Context, text string) (*SparseEmbedding, error) {
	var raw struct {
		Indices []uint32  `json:"indices"`
		Values  []float64 `json:"values"`
	}
	if err := c.embedSingle(ctx, text, &raw); err != nil {
		return nil, err
	}
	if len(raw.Indices) != len(raw.Values) {
		return nil, &BackendError{
			Status: http.StatusOK,
			Body:   fmt.Sprintf("sparse embedding has %d indices but %d values", len(raw.Indices), len(raw.Values)),
		}
	}

	values := make([]float32, len(raw.Values))
	for i, v := range raw.Values {
		values[i] = float32(v)
	}
	return &SparseEmbedding{Indices: raw.Indices, Values: values}, nil
}

// LateInteractionClient talks to a fastembed ColBERT-style service that
// returns one vector per token.
type LateInteractionClient struct {
	fastembedClient
}

// NewLateInteractionClient creates a client for a late-interaction backend.
func NewLateInteractionClient(cfg FastEmbedConfig) *LateInteractionClient {
	return &LateInteractionClient{newFastembedClient(cfg)}
}

// Embed returns the per-token vectors for text.
func (c *LateInteractionClient) Embed(ctx context.Context, text string) ([][]float32, error) {
	var raw [][]float64
	if err := c.embedSingle(ctx, text, &raw); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(raw))
	for i, row := range raw {
		vec := make([]float32, len(row))
		for j, v := range row {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Ensure the clients implement their interfaces.
var (
	_ DenseEmbedder           = (*DenseClient)(nil)
	_ SparseEmbedder          = (*SparseClient)(nil)
	_ LateInteractionEmbedder = (*LateInteractionClient)(nil)
)
