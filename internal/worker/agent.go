// Package worker implements the polling agent: register with the
// orchestrator, poll for an assignment, process it, report the outcome, and
// leave when directed. The agent never decides on its own that the job is
// done; only the shutdown directive ends the loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"batchfleet/internal/client"
	"batchfleet/internal/config"
	"batchfleet/internal/dispatch"
	"batchfleet/internal/runtime"
	"batchfleet/internal/storage"
	"batchfleet/pkg/backoff"
)

// Agent is one worker process.
type Agent struct {
	cfg    *config.Worker
	client *client.Client
	runner runtime.Runner
	logger *slog.Logger

	id string
}

// New creates an agent. The client must already point at a resolved
// orchestrator address.
func New(cfg *config.Worker, c *client.Client, runner runtime.Runner) *Agent {
	return &Agent{
		cfg:    cfg,
		client: c,
		runner: runner,
		logger: slog.With("component", "worker"),
	}
}

// ID returns the identifier assigned at registration, empty before Run.
func (a *Agent) ID() string { return a.id }

// Run registers and polls until the orchestrator directs shutdown or ctx is
// canceled. On cancellation the agent reports shutting-down so the
// orchestrator can return any held batch to the pool instead of waiting for
// the timeout monitor.
func (a *Agent) Run(ctx context.Context) error {
	hostname := a.cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	id, err := a.client.Register(ctx, hostname, a.cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("register with orchestrator: %w", err)
	}
	a.id = id
	a.logger = a.logger.With("workerId", id)
	a.logger.Info("Registered", "hostname", hostname)

	defer os.RemoveAll(a.cfg.WorkDir)

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			a.reportLeaving("interrupted")
			return ctx.Err()
		default:
		}

		assignment, err := a.client.GetAssignment(ctx, a.id)
		if err != nil {
			if ctx.Err() != nil {
				a.reportLeaving("interrupted")
				return ctx.Err()
			}
			consecutiveErrors++
			wait := backoff.ExponentialJitter(consecutiveErrors, &backoff.Config{
				Initial: a.cfg.PollInterval,
				Max:     time.Minute,
			})
			a.logger.Warn("Poll failed", "error", err, "retryIn", wait)
			if !sleep(ctx, wait) {
				a.reportLeaving("interrupted")
				return ctx.Err()
			}
			continue
		}
		consecutiveErrors = 0

		switch assignment.Directive {
		case dispatch.DirectiveWait:
			if !sleep(ctx, a.cfg.PollInterval) {
				a.reportLeaving("interrupted")
				return ctx.Err()
			}

		case dispatch.DirectiveShutdown:
			a.logger.Info("Shutdown directive received", "message", assignment.Message)
			a.reportLeaving("directed")
			return nil

		case dispatch.DirectiveBatch:
			a.processBatch(ctx, assignment.Batch)

		default:
			a.logger.Warn("Unknown directive", "directive", assignment.Directive)
			if !sleep(ctx, a.cfg.PollInterval) {
				a.reportLeaving("interrupted")
				return ctx.Err()
			}
		}
	}
}

// processBatch runs one batch end to end. Every failure path reports failed
// so the orchestrator requeues the batch immediately rather than waiting for
// the processing timeout.
func (a *Agent) processBatch(ctx context.Context, batch *dispatch.Batch) {
	logger := a.logger.With("batchId", batch.ID)

	if err := a.client.Ack(ctx, a.id); err != nil {
		// A conflict means the assignment was reclaimed while the response
		// was in flight; the batch belongs to someone else now.
		logger.Warn("Ack rejected, dropping batch", "error", err)
		return
	}
	if err := a.client.ReportStatus(ctx, a.id, dispatch.StatusProcessing, ""); err != nil {
		logger.Warn("Processing report rejected, dropping batch", "error", err)
		return
	}

	logger.Info("Processing batch", "files", len(batch.Files))
	start := time.Now()

	if err := a.executeBatch(ctx, batch); err != nil {
		logger.Error("Batch failed", "error", err, "elapsed", time.Since(start))
		if rerr := a.client.ReportStatus(ctx, a.id, dispatch.StatusFailed, err.Error()); rerr != nil {
			logger.Warn("Failed report rejected", "error", rerr)
		}
		return
	}

	logger.Info("Batch completed", "elapsed", time.Since(start))
	if err := a.client.ReportStatus(ctx, a.id, dispatch.StatusCompleted, ""); err != nil {
		logger.Warn("Completed report rejected", "error", err)
	}
}

// executeBatch stages inputs, runs the processing command, and uploads
// outputs. The workspace is removed afterwards regardless of outcome, so a
// long-lived worker does not accumulate stale batch data.
func (a *Agent) executeBatch(ctx context.Context, batch *dispatch.Batch) error {
	workspace := filepath.Join(a.cfg.WorkDir, batch.ID)
	inputDir := filepath.Join(workspace, "input")
	outputDir := filepath.Join(workspace, "output")
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}
	defer os.RemoveAll(workspace)

	input, err := storage.Open(ctx, batch.InputBucket)
	if err != nil {
		return err
	}
	defer input.Close()

	if err := input.DownloadAll(ctx, batch.InputPrefix, batch.Files, inputDir); err != nil {
		return fmt.Errorf("stage inputs: %w", err)
	}

	if err := a.runner.Run(ctx, runtime.RunSpec{
		BatchID:   batch.ID,
		InputDir:  inputDir,
		OutputDir: outputDir,
	}); err != nil {
		return err
	}

	output, err := storage.Open(ctx, batch.OutputBucket)
	if err != nil {
		return err
	}
	defer output.Close()

	if err := output.UploadDir(ctx, batch.OutputPrefix, outputDir); err != nil {
		return fmt.Errorf("upload outputs: %w", err)
	}
	return nil
}

// reportLeaving tells the orchestrator this worker is going away. Best
// effort with a short fresh context: the run context is usually already
// canceled when this is called.
func (a *Agent) reportLeaving(detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.client.ReportStatus(ctx, a.id, dispatch.StatusShuttingDown, detail); err != nil {
		a.logger.Warn("Shutdown report failed", "error", err)
		return
	}
	a.logger.Info("Shutdown reported", "detail", detail)
}

// sleep waits for d or until ctx is canceled, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
