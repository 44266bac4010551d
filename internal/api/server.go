package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jbouniol/finovera/pkg/config"
	"github.com/jbouniol/finovera/pkg/logger"
)

// Server represents the HTTP API server
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	config     *config.Config
	hooks      []shutdownHook
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithShutdownHook runs fn after the listener has drained, in registration order
func WithShutdownHook(name string, fn func(context.Context) error) ServerOption {
	return func(s *Server) {
		s.hooks = append(s.hooks, shutdownHook{name: name, fn: fn})
	}
}

// New creates a new API server
func New(cfg *config.Config, log *logger.Logger, router http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute, // first request for an asset count fine-tunes
			IdleTimeout:  60 * time.Second,
		},
		logger: log,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"port": s.config.Port,
		"env":  s.config.Env,
	}).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests, waits for open ones, then runs the
// shutdown hooks (draining policy adaptations) within the same ctx.
// Hooks run even when the listener fails to drain in time.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
	}

	for _, h := range s.hooks {
		start := time.Now()
		err := h.fn(ctx)
		entry := s.logger.WithFields(map[string]interface{}{
			"hook":        h.name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("shutdown hook %s: %w", h.name, err))
			continue
		}
		entry.Info("Shutdown hook completed")
	}

	return errors.Join(errs...)
}
