package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/query"
	"llmlatencybench/internal/results"
	"llmlatencybench/internal/store"
	"llmlatencybench/internal/telemetry"
	"llmlatencybench/server"
)

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logger first
	log := logger.New(cfg.LogMode)
	defer log.Sync()
	server.SetLogger(log)

	if applied, err := server.ApplyCloudFoundryBindings(cfg); err != nil {
		log.Warn("ignoring VCAP_SERVICES: %v", err)
	} else if len(applied) > 0 {
		log.Info("applied Cloud Foundry bindings: %v", applied)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := telemetry.SetupOTelSDK(ctx, cfg)
	if err != nil {
		log.Warn("OpenTelemetry disabled: %v", err)
	} else {
		defer shutdownOTel(context.Background())
	}

	rs, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer rs.Close()

	m := telemetry.Default()
	sink := results.NewSink(rs, results.WithSinkLogger(log), results.WithSinkMetrics(m), results.WithWriteTimeout(cfg.StoreWriteTimeout))
	artifacts := &results.ArtifactWriter{Dir: cfg.ArtifactDir}
	factory := benchmark.RegistryFactory(cfg, log)

	hub := server.NewHub()
	go hub.Run(ctx)

	runs := server.NewRunManager(func(runCfg *benchmark.Config, obs benchmark.Observer) *benchmark.Orchestrator {
		return benchmark.New(runCfg, factory,
			benchmark.WithSink(sink),
			benchmark.WithArtifacts(artifacts),
			benchmark.WithLogger(log),
			benchmark.WithMetrics(m),
			benchmark.WithObserver(obs),
		)
	}, hub)

	handlers := server.NewHandlers(
		query.NewService(rs, query.WithLogger(log)),
		runs,
		server.NewCatalogCache(cfg, 0),
		cfg.StoreDriver,
		cfg.StoreReadTimeout,
	)

	// Set Gin mode based on environment
	if cfg.GinMode == "" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(cfg.GinMode)
	}
	release := gin.Mode() == gin.ReleaseMode

	// Create Gin router without default middleware (we use custom middleware)
	router := gin.New()
	server.SetupRoutes(router, server.RouteOptions{
		Handlers: handlers,
		Runs:     runs,
		Hub:      hub,
		CORS:     server.NewCORSConfig(cfg.CORSOrigin, release),
		Release:  release,
	})

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		Handler:        router,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // Disabled for SSE connections
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting on port %s (store: %s)", cfg.Port, cfg.StoreDriver)
		log.Info("Query endpoints available at http://localhost:%s/metrics", cfg.Port)
		log.Info("Run API available at http://localhost:%s/api/runs", cfg.Port)
		log.Info("WebSocket endpoint available at ws://localhost:%s/ws", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	runs.CancelAll()

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited gracefully")
	return nil
}
