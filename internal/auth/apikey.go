// Package auth provides authentication middleware for API key and
// JWT-based access to the search API.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	// APIKeyHeader is the request header carrying the API key.
	APIKeyHeader = "X-API-Key"
)

// Config holds the credentials the middleware accepts. When both fields
// are empty, authentication is disabled (development mode).
type Config struct {
	// APIKey is the static key compared against the X-API-Key header.
	APIKey string

	// JWTSecret is the HS256 signing secret for bearer tokens.
	JWTSecret string

	// SkipPaths are exact request paths served without authentication,
	// typically health endpoints.
	SkipPaths []string
}

// Middleware returns an HTTP middleware enforcing the configured
// credentials. A request passes when it carries a matching API key or a
// valid bearer token.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	enabled := cfg.APIKey != "" || cfg.JWTSecret != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.APIKey != "" {
				key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
				if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.JWTSecret != "" {
				token := bearerToken(r)
				if token != "" {
					if _, err := ValidateToken(token, cfg.JWTSecret); err == nil {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			unauthorized(w)
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid credentials"})
}
