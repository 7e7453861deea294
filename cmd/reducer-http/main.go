// Package main runs the reducer behind an HTTP endpoint for container
// deployments. POST / with {"today": "YYYY-MM-DD"} triggers a catch-up run;
// GET /health reports database and archive reachability.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"reducer/internal/app"
	"reducer/internal/config"
	"reducer/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	provider := config.NewProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg)
	logger.Info("reducer HTTP server starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	clients, err := app.Connect(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting clients: %w", err)
	}
	rt := app.New(cfg, logger, clients, app.Options{})

	srv, err := buildServer(cfg, rt, rt.Probes, logger)
	if err != nil {
		_ = rt.Close()
		return err
	}
	return serve(ctx, srv, cfg, logger)
}

const connectTimeout = 30 * time.Second

// buildServer mounts the run and health routes over runner.
func buildServer(cfg *config.Config, runner core.Runner, probes []core.HealthProbe, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, runner, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = probes
	srv.MountRoutes()
	return srv, nil
}

// serve listens until ctx is cancelled or the listener fails, then drains
// in-flight runs within the shutdown timeout and closes the runner.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A catch-up run holds the response open for minutes.
		WriteTimeout: 20 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := errors.Join(httpServer.Shutdown(shutdownCtx), srv.Shutdown(shutdownCtx))
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}
