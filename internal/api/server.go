package api

import (
	"context"
	"net/http"

	"github.com/ignite/pixelrelay/internal/config"
)

// Server represents the ingestion API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer wires the handlers into a router.
func NewServer(cfg *config.Config, admitter Admitter, health *HealthChecker) *Server {
	handlers := NewHandlers(admitter, cfg)
	return &Server{
		config:  cfg.Server,
		handler: SetupRoutes(handlers, health, cfg),
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout(),
		ReadHeaderTimeout: s.config.ReadTimeout(),
		WriteTimeout:      s.config.WriteTimeout(),
		IdleTimeout:       s.config.IdleTimeout(),
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
