package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coursegen/internal/api"
	"coursegen/pkg/config"
	"coursegen/pkg/logging"
	"coursegen/pkg/probe"
	"coursegen/pkg/service"
	"coursegen/pkg/telemetry"
	"coursegen/pkg/version"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

// setup loads the config and brings up logging and tracing. The returned
// cleanup flushes both.
func setup(ctx context.Context, configPath string) (*config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log, &cfg.History)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, version.Version)
	if err != nil {
		cleanupLogs()
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	cleanup := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
		cleanupLogs()
	}
	return cfg, cleanup, nil
}

func runServe(ctx context.Context, configPath, addr string) error {
	cfg, cleanup, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("Started", "version", version.Version, "config", configPath)

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}()

	if err := probe.Analyze(probe.Run(ctx, svc.Probes())); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	// Queues outlive the signal so lessons already in flight can finish.
	svc.Start(context.WithoutCancel(ctx))

	if addr == "" {
		addr = cfg.Server.Address
	}

	g, gctx := errgroup.WithContext(ctx)

	runs := api.NewRuns(gctx, svc.Orchestrator, svc.Sink,
		api.WithRetention(cfg.Server.RunRetention.Std(), cfg.Server.MaxFinishedRuns))

	quit := make(chan struct{})
	requestShutdown := sync.OnceFunc(func() { close(quit) })

	srv := api.NewServer(addr, api.Deps{
		Runs:          runs,
		Store:         svc.Store,
		Chat:          svc,
		Keys:          svc.Keys,
		Tracker:       svc.Tracker,
		Conversations: svc.Conversations,
	}, requestShutdown)

	g.Go(func() error {
		slog.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-quit:
			slog.Info("Shutdown requested via API")
		case <-gctx.Done():
			slog.Info("Context cancelled, shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// gctx is cancelled once Wait returns, so runs stop before their next lesson.
	slog.Info("Waiting for active runs")
	runs.Wait()
	slog.Info("Stopped")
	return err
}
