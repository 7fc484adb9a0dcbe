package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"switchbox/internal/afterrun"
	"switchbox/internal/api"
	"switchbox/internal/compose"
	"switchbox/internal/config"
	"switchbox/internal/docker"
	"switchbox/internal/health"
	"switchbox/internal/job"
	"switchbox/internal/observability"
	"switchbox/internal/params"
	"syscall"
	"time"
)

// runAPI serves the job API and the metrics endpoint until signalled.
func runAPI(cfg *config.ServiceConfig) error {
	ctx := context.Background()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	schema, err := params.Load(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load ETL parameters: %w", err)
	}
	scheme, err := job.ParseIDScheme(cfg.JobIDScheme)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.JobDir, 0o755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	composeCtl := compose.New(compose.Options{
		ProjectDir:  cfg.ProjectDir,
		ProjectName: cfg.ProjectName,
		Command:     cfg.ComposeCommand,
		Inspector:   dockerClient,
		Metrics:     metrics,
	})

	runtime := &job.Runtime{
		BaseDir:        cfg.JobDir,
		ETLService:     cfg.ETLService,
		IndexerService: cfg.IndexerService,
		VocabDir:       cfg.VocabDir,
		IDScheme:       scheme,
		Launcher:       composeCtl,
		Inspector:      dockerClient,
		FollowUp:       &afterrun.Spawner{Binary: cfg.AfterRunnerBin},
		Metrics:        metrics,
	}
	jobService := job.NewService(runtime, schema, cfg.Version)

	healthChecker := health.NewChecker(
		health.Check{Name: "docker", Checker: dockerClient},
		health.Check{Name: "jobdir", Checker: jobService},
		health.Check{Name: "compose", Optional: true, Checker: health.ReadinessFunc(func(ctx context.Context) error {
			_, err := composeCtl.Config(ctx)
			return err
		})},
	)

	router := api.NewRouter(api.RouterConfig{
		JobService:     jobService,
		Params:         schema,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		Version:        cfg.Version,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Uploads can be large.
	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port, "jobDir", cfg.JobDir, "projectDir", cfg.ProjectDir)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// ETL containers and their after-run supervisors are detached and keep running.
	slog.Info("Running jobs will continue independently")
	slog.Info("Shutdown complete")
	return nil
}
