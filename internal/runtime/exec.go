package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ExecRunner runs the processing command directly on the host. Used when no
// runner image is configured, and by tests.
type ExecRunner struct {
	command []string
	logger  *slog.Logger
}

// NewExecRunner creates a host-exec runner.
func NewExecRunner(command []string) (*ExecRunner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("runner command is required")
	}
	return &ExecRunner{
		command: command,
		logger:  slog.With("component", "runtime"),
	}, nil
}

// Run executes the command with the batch directories passed in the
// environment, mirroring what a containerized runner sees.
func (r *ExecRunner) Run(ctx context.Context, spec RunSpec) error {
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("BATCH_ID=%s", spec.BatchID),
		fmt.Sprintf("INPUT_DIR=%s", spec.InputDir),
		fmt.Sprintf("OUTPUT_DIR=%s", spec.OutputDir),
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Warn("Batch command failed", "batchId", spec.BatchID, "error", err, "output", string(out))
		return fmt.Errorf("batch command: %w", err)
	}
	return nil
}

var _ Runner = (*ExecRunner)(nil)
