// Package config loads configuration from environment variables and .env files.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the search service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Qdrant
	QdrantGRPCURL string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`

	// Embedding backends (fastembed sidecar services)
	DenseEmbedderURL   string        `env:"DENSE_EMBEDDER_URL" envDefault:"http://localhost:8001"`
	SparseEmbedderURL  string        `env:"SPARSE_EMBEDDER_URL" envDefault:"http://localhost:8002"`
	ColbertEmbedderURL string        `env:"COLBERT_EMBEDDER_URL" envDefault:"http://localhost:8003"`
	EmbedTimeout       time.Duration `env:"EMBED_TIMEOUT" envDefault:"10s"`
	EmbedCacheSize     int           `env:"EMBED_CACHE_SIZE" envDefault:"512"`

	// Search defaults
	SearchTimeout              time.Duration `env:"SEARCH_TIMEOUT" envDefault:"2s"`
	DefaultTopK                int           `env:"DEFAULT_TOP_K" envDefault:"10"`
	DefaultCandidateMultiplier int           `env:"DEFAULT_CANDIDATE_MULTIPLIER" envDefault:"3"`
	DefaultFusedWeight         float32       `env:"DEFAULT_FUSED_WEIGHT" envDefault:"0.4"`
	DefaultLateWeight          float32       `env:"DEFAULT_LATE_INTERACTION_WEIGHT" envDefault:"0.6"`

	// Auth (both empty disables authentication)
	APIKey    string `env:"API_KEY"`
	JWTSecret string `env:"JWT_SECRET"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
