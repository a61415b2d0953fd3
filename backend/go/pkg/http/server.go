package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/httpmiddleware"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/ratelimiter"
)

// Middleware defines a function to wrap an http.Handler.
type Middleware func(http.Handler) http.Handler

// Server wraps http.Server and puts the configured middleware in front of
// the application handler.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithLogger sets the logger used for request logs and lifecycle messages.
func WithLogger(log *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer wraps handler with request logging and, when enabled in cfg,
// rate limiting and circuit breaking.
func NewServer(cfg *config.AppConfig, handler http.Handler, opts ...ServerOption) (*Server, error) {
	srv := &Server{
		httpServer: &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.Discard(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}

	middlewares := []Middleware{httpmiddleware.RequestLog(srv.log)}

	if cfg.Middleware.RateLimiter.Enabled {
		limiter, err := ratelimiter.FromConfig(cfg.Middleware.RateLimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		srv.log.WithField("algorithm", cfg.Middleware.RateLimiter.Algorithm).Info("Enabling rate limiter middleware")
		middlewares = append(middlewares, httpmiddleware.RateLimit(limiter))
	}

	if cfg.Middleware.CircuitBreaker.Enabled {
		breaker, err := circuitbreaker.FromConfig(cfg.Middleware.CircuitBreaker)
		if err != nil {
			return nil, fmt.Errorf("failed to create circuit breaker: %w", err)
		}
		srv.log.Info("Enabling circuit breaker middleware")
		middlewares = append(middlewares, httpmiddleware.CircuitBreak(breaker))
	}

	// Apply all middlewares in reverse order
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	srv.httpServer.Handler = handler
	return srv, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
