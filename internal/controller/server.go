// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"snapops/internal/controller/handlers"
	"snapops/internal/controller/middleware"
)

// Config carries the server's wiring options.
type Config struct {
	Addr           string
	InternalSecret string
	RateLimit      middleware.RateLimitConfig
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(cfg Config, h *handlers.Handlers) *Server {
	internalMW := middleware.RequireInternalAuth(cfg.InternalSecret)
	rateMW := middleware.RateLimit(cfg.RateLimit)

	mux := http.NewServeMux()

	// Internal endpoints, called by the external scheduler. These should run
	// on a separate port or strict network rules.
	mux.Handle("POST /internal/jobs/{id}/dispatch", internalMW(http.HandlerFunc(h.DispatchJob)))
	mux.Handle("POST /internal/workflows/run", internalMW(http.HandlerFunc(h.RunWorkflows)))
	mux.Handle("POST /internal/accounts/unlock", internalMW(http.HandlerFunc(h.UnlockAccounts)))

	// Agency-scoped endpoints
	mux.Handle("POST /executions", rateMW(http.HandlerFunc(h.CreateExecution)))
	mux.HandleFunc("GET /executions/{id}", h.GetExecution)
	mux.HandleFunc("GET /executions", h.ListExecutions)
	mux.HandleFunc("GET /accounts/{id}/executions", h.ListAccountExecutions)

	mux.HandleFunc("GET /healthz", h.Healthz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
