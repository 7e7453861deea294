// Package core is the HTTP chassis for the reducer. It builds a chi router
// that serves both the long-running HTTP entry point and local development,
// applying recovery, request correlation and logging before requests reach
// the run handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reducer/internal/config"
	"reducer/internal/types"
)

// Runner executes one catch-up run. *scheduler.Catchup satisfies it.
type Runner interface {
	Run(ctx context.Context, in types.RunInput) (*types.RunResult, error)
}

// Server holds the dependencies of the HTTP surface.
type Server struct {
	Config       *config.Config
	Runner       Runner
	Logger       *slog.Logger
	Validator    *Validator
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. Callers mount
// routes with MountRoutes.
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Runner:    runner,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases the runner's resources if it holds any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	if closer, ok := s.Runner.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing runner", "error", err)
			return fmt.Errorf("closing runner: %w", err)
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
