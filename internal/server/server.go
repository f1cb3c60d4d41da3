// Package server exposes the HTTP + WebSocket API for the listing service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/server/handler"
	"github.com/nftfolio/listingd/internal/server/middleware"
	"github.com/nftfolio/listingd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// API rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Portfolio *handler.PortfolioHandler
	Listings  *handler.ListingsHandler
	Workflows *handler.WorkflowsHandler
}

// Server is the headless HTTP + WebSocket API server for the listing service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Portfolio endpoints.
	mux.HandleFunc("GET /api/portfolio/{wallet}", handlers.Portfolio.GetPortfolio)

	// Listing endpoints. Mutations start workflows and return 202.
	mux.HandleFunc("GET /api/listings/{contract}/{token}", handlers.Listings.GetListings)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListings)
	mux.HandleFunc("PUT /api/listings", handlers.Listings.EditListings)
	mux.HandleFunc("DELETE /api/listings", handlers.Listings.CancelListings)

	// Workflow history endpoints.
	mux.HandleFunc("GET /api/workflows", handlers.Workflows.ListWorkflows)
	mux.HandleFunc("GET /api/workflows/events", handlers.Workflows.StreamEvents)
	mux.HandleFunc("GET /api/workflows/{id}", handlers.Workflows.GetWorkflow)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
