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
	// Observer records request metrics when set.
	Observer RequestObserver
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /generations", h.ListGenerations)
	mux.HandleFunc("POST /generations/{modality}", h.CreateGeneration)
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.CancelGeneration)
	mux.HandleFunc("GET /generations/{id}/events", h.StreamEvents)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	middlewares := []func(http.Handler) http.Handler{
		RequestIDMiddleware,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	}
	if cfg.Observer != nil {
		middlewares = append(middlewares, MetricsMiddleware(cfg.Observer))
	}
	middlewares = append(middlewares, CORSMiddleware(cfg.AllowedOrigins))

	return ChainMiddleware(middlewares...)(mux)
}
