// Package core provides the API chassis for the TenderWatch notification
// queue. It creates a chi router compatible with both standard HTTP (for
// local dev) and AWS Lambda Proxy Integration (via chiadapter). It enforces
// cross-cutting concerns -- security, logging, observability, and error
// handling -- before requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tenderwatch/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
// Implementations record request latency and count metrics to CloudWatch
// or equivalent backends.
type MetricsCollector interface {
	// RecordRequest records API request metrics including latency and count.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates all dependencies for the queue API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are populated by the application entry point to
	// mount domain handlers under /v1. This indirection avoids import
	// cycles between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// closers are resources released during Shutdown, in registration order.
	closers []interface{ Close() error }

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// RegisterCloser adds a resource to be released during Shutdown.
func (s *Server) RegisterCloser(c interface{ Close() error }) {
	s.closers = append(s.closers, c)
}

// Handler returns the http.Handler interface for the router.
// Used by http.ListenAndServe (local) and chiadapter.New (Lambda).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources, closing
// registered closers (database pools, clients) in registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.Logger.Error("error closing server resource", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("closing server resource: %w", err)
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
