// Package server exposes the search pipeline over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/hybridsearch/internal/auth"
	"github.com/knoguchi/hybridsearch/internal/embedder"
	"github.com/knoguchi/hybridsearch/internal/rerank"
	"github.com/knoguchi/hybridsearch/internal/service"
	"github.com/knoguchi/hybridsearch/internal/vectorstore"
)

// Searcher is the pipeline surface the HTTP layer depends on.
type Searcher interface {
	Search(ctx context.Context, req service.SearchRequest) (*service.SearchResponse, error)
}

// HealthChecker probes one backing dependency.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// HTTPServer serves the search API.
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
}

// HTTPServerConfig holds configuration for the HTTP server.
type HTTPServerConfig struct {
	Port           int
	Logger         *slog.Logger
	Auth           auth.Config
	AllowedOrigins []string // CORS allowed origins

	// Dependencies probed by /readyz, keyed by component name.
	Dependencies map[string]HealthChecker
}

// NewHTTPServer creates the HTTP server around a search pipeline.
func NewHTTPServer(cfg HTTPServerConfig, searcher Searcher) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	authCfg := cfg.Auth
	authCfg.SkipPaths = append(authCfg.SkipPaths, "/healthz", "/readyz")
	router.Use(auth.Middleware(authCfg))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler(cfg.Dependencies))
	router.Post("/v1/search", searchHandler(searcher, logger))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &HTTPServer{
		server: server,
		router: router,
		logger: logger,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying chi router for additional route registration.
func (s *HTTPServer) Router() *chi.Mux {
	return s.router
}

// searchRequest is the JSON body of POST /v1/search.
type searchRequest struct {
	Query                 string   `json:"query"`
	Collection            string   `json:"collection"`
	TopK                  int      `json:"top_k,omitempty"`
	CandidateMultiplier   int      `json:"candidate_multiplier,omitempty"`
	FusedWeight           *float32 `json:"fused_weight,omitempty"`
	LateInteractionWeight *float32 `json:"late_interaction_weight,omitempty"`
}

// searchResult is one entry of the response list.
type searchResult struct {
	ID                   string            `json:"id"`
	Content              string            `json:"content"`
	FusedScore           float32           `json:"fused_score"`
	LateInteractionScore float32           `json:"late_interaction_score"`
	FinalScore           float32           `json:"final_score"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// searchMetadata mirrors service.SearchMetadata on the wire.
type searchMetadata struct {
	QueryID             string `json:"query_id"`
	EmbedTimeMs         int64  `json:"embed_time_ms"`
	RetrievalTimeMs     int64  `json:"retrieval_time_ms"`
	RerankTimeMs        int64  `json:"rerank_time_ms"`
	TotalTimeMs         int64  `json:"total_time_ms"`
	CandidatesRetrieved int    `json:"candidates_retrieved"`
	CandidatesScored    int    `json:"candidates_scored"`
}

type searchResponse struct {
	Results  []searchResult `json:"results"`
	Metadata searchMetadata `json:"metadata"`
}

func searchHandler(searcher Searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		req := service.SearchRequest{
			Query:               body.Query,
			Collection:          body.Collection,
			TopK:                body.TopK,
			CandidateMultiplier: body.CandidateMultiplier,
		}

		// Weight overrides come as a pair; a lone half would silently
		// zero the other channel.
		switch {
		case body.FusedWeight != nil && body.LateInteractionWeight != nil:
			req.Weights = &rerank.Weights{
				Fused:           *body.FusedWeight,
				LateInteraction: *body.LateInteractionWeight,
			}
		case body.FusedWeight != nil || body.LateInteractionWeight != nil:
			writeError(w, http.StatusBadRequest, "fused_weight and late_interaction_weight must be set together")
			return
		}

		resp, err := searcher.Search(r.Context(), req)
		if err != nil {
			status := statusForError(err)
			if status == http.StatusInternalServerError {
				logger.Error("search handler failure", "error", err)
			}
			writeError(w, status, err.Error())
			return
		}

		results := make([]searchResult, len(resp.Results))
		for i, res := range resp.Results {
			results[i] = searchResult{
				ID:                   res.ID,
				Content:              res.Content,
				FusedScore:           res.FusedScore,
				LateInteractionScore: res.LateInteractionScore,
				FinalScore:           res.FinalScore,
				Metadata:             res.Metadata,
			}
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Results: results,
			Metadata: searchMetadata{
				QueryID:             resp.Metadata.QueryID,
				EmbedTimeMs:         resp.Metadata.EmbedTimeMs,
				RetrievalTimeMs:     resp.Metadata.RetrievalTimeMs,
				RerankTimeMs:        resp.Metadata.RerankTimeMs,
				TotalTimeMs:         resp.Metadata.TotalTimeMs,
				CandidatesRetrieved: resp.Metadata.CandidatesRetrieved,
				CandidatesScored:    resp.Metadata.CandidatesScored,
			},
		})
	}
}

// statusForError maps the pipeline's error taxonomy onto HTTP statuses so
// callers can distinguish "try again" from "fix the request".
func statusForError(err error) int {
	var backendErr *embedder.BackendError
	var indexErr *vectorstore.IndexError

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, embedder.ErrBackendUnavailable), errors.Is(err, vectorstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &backendErr), errors.As(err, &indexErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware handles CORS headers
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			if len(allowedOrigins) == 0 {
				// If no origins specified, allow all in development
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readinessCheckHandler probes every backing dependency and reports which
// ones are down.
func readinessCheckHandler(deps map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failing := make(map[string]string)
		for name, dep := range deps {
			if err := dep.Healthy(ctx); err != nil {
				failing[name] = err.Error()
			}
		}

		if len(failing) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not ready",
				"failing": failing,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
