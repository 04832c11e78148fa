package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// AudioDir serves locally stored clips under AudioPrefix when set.
	AudioDir string
	// AudioPrefix is the URL path prefix for local clips.
	AudioPrefix string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		AudioPrefix:    "/audio",
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("PUT /scripts/{scriptID}", h.PutScript)
	mux.HandleFunc("GET /scripts/{scriptID}", h.GetScript)
	mux.HandleFunc("POST /scripts/{scriptID}/hydrate", h.HydrateScript)
	mux.HandleFunc("POST /scripts/{scriptID}/lines/{index}/retry", h.RetryLine)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)
	mux.HandleFunc("GET /runs/{id}/events", h.RunEvents)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	if cfg.AudioDir != "" && cfg.AudioPrefix != "" {
		prefix := cfg.AudioPrefix + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(cfg.AudioPrefix, http.FileServer(http.Dir(cfg.AudioDir))))
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
