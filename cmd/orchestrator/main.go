// orchestrator is the central authority of a batch processing fleet: it
// partitions the input files into batches, hands them to polling workers,
// reclaims stalled work, and shuts itself down once everything is done.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchfleet/internal/api"
	"batchfleet/internal/config"
	"batchfleet/internal/directory"
	"batchfleet/internal/dispatch"
	"batchfleet/internal/dispatcher"
	"batchfleet/internal/health"
	"batchfleet/internal/notify"
	"batchfleet/internal/observability"
	"batchfleet/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Orchestrator failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadOrchestrator()
	if err != nil {
		return err
	}
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open the input bucket and discover the work
	input, err := storage.Open(ctx, cfg.InputBucket)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := storage.Open(ctx, cfg.OutputBucket)
	if err != nil {
		return err
	}
	defer output.Close()

	files, err := input.ListFiles(ctx, cfg.InputPrefix)
	if err != nil {
		return err
	}
	slog.Info("Input files discovered", "count", len(files), "bucket", cfg.InputBucket, "prefix", cfg.InputPrefix)

	if cfg.SkipProcessed {
		remaining, err := storage.FilterProcessed(ctx, files, output, cfg.OutputPrefix)
		if err != nil {
			return err
		}
		if skipped := len(files) - len(remaining); skipped > 0 {
			slog.Info("Skipping already-processed files", "skipped", skipped)
		}
		files = remaining
	}

	batches, err := dispatch.Partition(files, dispatch.Buckets{
		InputBucket:  cfg.InputBucket,
		InputPrefix:  cfg.InputPrefix,
		OutputBucket: cfg.OutputBucket,
		OutputPrefix: cfg.OutputPrefix,
	}, cfg.BatchSize)
	if err != nil {
		return err
	}
	slog.Info("Batches created", "batches", len(batches), "batchSize", cfg.BatchSize)

	// Coordination core
	engine := dispatch.NewEngine(dispatch.Config{
		AckTimeout:        cfg.AckTimeout,
		ProcessingTimeout: cfg.ProcessingTimeout,
		MaxTimeoutStrikes: cfg.MaxTimeoutStrikes,
		MaxBatchRetries:   cfg.MaxBatchRetries,
	}, batches, metrics)

	// Webhook dispatcher and completion notifier
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	var notifier dispatch.Notifier = notify.NewLog()
	if cfg.CompletionWebhookURL != "" {
		notifier = notify.NewWebhook(eventDispatcher, cfg.CompletionWebhookURL, jobID(cfg), cfg.APIKey)
	}

	// Health checker over the buckets
	readiness := map[string]health.ReadinessChecker{
		"input": health.ReadyFunc(func(ctx context.Context) error {
			_, err := input.ListFiles(ctx, cfg.InputPrefix)
			return err
		}),
		"output": health.ReadyFunc(func(ctx context.Context) error {
			_, err := output.ListFiles(ctx, cfg.OutputPrefix)
			return err
		}),
	}
	healthChecker := health.NewChecker(readiness)

	// Publish the advertise address for workers that discover us
	if cfg.DirectoryURL != "" {
		dir, err := directory.Open(ctx, cfg.DirectoryURL)
		if err != nil {
			return err
		}
		defer dir.Close()
		if err := dir.Publish(ctx, cfg.AdvertiseURL); err != nil {
			return err
		}
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Engine:        engine,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
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

	// Background loops: timeout monitor and completion coordinator. The
	// coordinator ends the process by closing jobDone once the job is
	// quiescent and the notification is queued.
	jobDone := make(chan struct{})
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()

	monitor := dispatch.NewMonitor(engine, cfg.MonitorInterval)
	go monitor.Run(loopCtx)

	coordinator := dispatch.NewCoordinator(engine, notifier, func() { close(jobDone) })
	go coordinator.Run(loopCtx)

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

	// Wait for job completion, interrupt signal, or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-jobDone:
		slog.Info("Job complete, shutting down")
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()
	cancelLoops()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain the webhook dispatcher so the completion event goes out
	slog.Info("Draining webhook dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := engine.Stats()
	slog.Info("Final job stats",
		"completed", stats.Completed,
		"abandoned", stats.Abandoned,
		"pending", stats.Pending,
		"inFlight", stats.InFlight,
	)
	slog.Info("Shutdown complete")
	return nil
}

// jobID derives a stable job identifier from the storage coordinates.
func jobID(cfg *config.Orchestrator) string {
	if cfg.InputPrefix != "" {
		return cfg.InputBucket + "/" + cfg.InputPrefix
	}
	return cfg.InputBucket
}
