package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/hybridsearch/internal/auth"
	"github.com/knoguchi/hybridsearch/internal/config"
	"github.com/knoguchi/hybridsearch/internal/embedder"
	"github.com/knoguchi/hybridsearch/internal/rerank"
	"github.com/knoguchi/hybridsearch/internal/server"
	"github.com/knoguchi/hybridsearch/internal/service"
	"github.com/knoguchi/hybridsearch/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting search service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant", "url", cfg.QdrantGRPCURL)

	// Initialize the embedding backend clients
	httpClient := &http.Client{Timeout: cfg.EmbedTimeout}
	dense := embedder.NewDenseClient(embedder.FastEmbedConfig{
		BaseURL:    cfg.DenseEmbedderURL,
		HTTPClient: httpClient,
	})
	sparse := embedder.NewSparseClient(embedder.FastEmbedConfig{
		BaseURL:    cfg.SparseEmbedderURL,
		HTTPClient: httpClient,
	})
	late := embedder.NewLateInteractionClient(embedder.FastEmbedConfig{
		BaseURL:    cfg.ColbertEmbedderURL,
		HTTPClient: httpClient,
	})

	var queryEmbedder embedder.Embedder = embedder.NewFanoutEmbedder(dense, sparse, late)
	if cfg.EmbedCacheSize > 0 {
		queryEmbedder, err = embedder.NewCachedEmbedder(queryEmbedder, cfg.EmbedCacheSize)
		if err != nil {
			return fmt.Errorf("failed to create embedding cache: %w", err)
		}
		slog.Info("enabled query vector cache", "size", cfg.EmbedCacheSize)
	}

	// Initialize the search pipeline
	reranker := rerank.New(slog.Default())
	searchSvc := service.NewSearchService(queryEmbedder, vectorStore, reranker, service.Defaults{
		TopK:                cfg.DefaultTopK,
		CandidateMultiplier: cfg.DefaultCandidateMultiplier,
		Weights: rerank.Weights{
			Fused:           cfg.DefaultFusedWeight,
			LateInteraction: cfg.DefaultLateWeight,
		},
		Timeout: cfg.SearchTimeout,
	}, slog.Default())

	// Create HTTP server
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:   cfg.HTTPPort,
		Logger: slog.Default(),
		Auth: auth.Config{
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		AllowedOrigins: []string{"*"}, // Configure in production
		Dependencies: map[string]server.HealthChecker{
			"qdrant":           vectorStore,
			"dense_embedder":   dense,
			"sparse_embedder":  sparse,
			"colbert_embedder": late,
		},
	}, searchSvc)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
