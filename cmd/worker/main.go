// worker polls the orchestrator for batch assignments, runs the configured
// runner over each batch, and uploads the results.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"batchfleet/internal/client"
	"batchfleet/internal/config"
	"batchfleet/internal/directory"
	"batchfleet/internal/runtime"
	"batchfleet/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}

	orchestratorURL := cfg.OrchestratorURL
	if orchestratorURL == "" {
		dir, err := directory.Open(ctx, cfg.DirectoryURL)
		if err != nil {
			return err
		}
		orchestratorURL, err = dir.Lookup(ctx)
		dir.Close()
		if err != nil {
			return err
		}
		slog.Info("Resolved orchestrator from directory", "url", orchestratorURL)
	}

	var runner runtime.Runner
	if cfg.RunnerImage != "" {
		runner, err = runtime.NewDockerRunner(cfg.RunnerImage, cfg.RunnerCommand)
	} else {
		runner, err = runtime.NewExecRunner(cfg.RunnerCommand)
	}
	if err != nil {
		return err
	}

	// Cancel the agent loop on SIGINT/SIGTERM so it can hand its batch back
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	c := client.New(orchestratorURL, cfg.APIKey, cfg.RequestTimeout)
	agent := worker.New(cfg, c, runner)

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
