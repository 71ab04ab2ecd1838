package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"batchfleet/internal/apperrors"
)

func TestLoadOrchestratorDefaults(t *testing.T) {
	t.Setenv("INPUT_BUCKET", "in")
	t.Setenv("OUTPUT_BUCKET", "out")

	cfg, err := LoadOrchestrator()
	if err != nil {
		t.Fatalf("LoadOrchestrator() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if cfg.AckTimeout != 60*time.Second {
		t.Errorf("AckTimeout = %v, want 60s", cfg.AckTimeout)
	}
	if cfg.ProcessingTimeout != 10*time.Minute {
		t.Errorf("ProcessingTimeout = %v, want 10m", cfg.ProcessingTimeout)
	}
	if !cfg.SkipProcessed {
		t.Error("SkipProcessed = false, want true by default")
	}
}

func TestLoadOrchestratorOverrides(t *testing.T) {
	t.Setenv("INPUT_BUCKET", "in")
	t.Setenv("OUTPUT_BUCKET", "out")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("ACK_TIMEOUT", "90s")
	t.Setenv("MAX_BATCH_RETRIES", "5")

	cfg, err := LoadOrchestrator()
	if err != nil {
		t.Fatalf("LoadOrchestrator() error = %v", err)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.AckTimeout != 90*time.Second {
		t.Errorf("AckTimeout = %v, want 90s", cfg.AckTimeout)
	}
	if cfg.MaxBatchRetries != 5 {
		t.Errorf("MaxBatchRetries = %d, want 5", cfg.MaxBatchRetries)
	}
}

func TestOrchestratorValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Orchestrator {
		return &Orchestrator{
			BatchSize:         10,
			AckTimeout:        time.Minute,
			ProcessingTimeout: 10 * time.Minute,
			InputBucket:       "in",
			OutputBucket:      "out",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Orchestrator)
	}{
		{"zero batch size", func(c *Orchestrator) { c.BatchSize = 0 }},
		{"negative batch size", func(c *Orchestrator) { c.BatchSize = -3 }},
		{"zero ack timeout", func(c *Orchestrator) { c.AckTimeout = 0 }},
		{"zero processing timeout", func(c *Orchestrator) { c.ProcessingTimeout = 0 }},
		{"missing input bucket", func(c *Orchestrator) { c.InputBucket = "" }},
		{"missing output bucket", func(c *Orchestrator) { c.OutputBucket = "" }},
		{"directory without advertise URL", func(c *Orchestrator) { c.DirectoryURL = "mem://dir" }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("ORCHESTRATOR_URL", "http://orchestrator:8080")
	t.Setenv("RUNNER_COMMAND", "process.sh --fast")
	t.Setenv("CAPABILITIES", "gpu,large-memory")

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker() error = %v", err)
	}
	if cfg.OrchestratorURL != "http://orchestrator:8080" {
		t.Errorf("OrchestratorURL = %q", cfg.OrchestratorURL)
	}
	if len(cfg.RunnerCommand) != 2 || cfg.RunnerCommand[0] != "process.sh" {
		t.Errorf("RunnerCommand = %v, want [process.sh --fast]", cfg.RunnerCommand)
	}
	if len(cfg.Capabilities) != 2 || cfg.Capabilities[1] != "large-memory" {
		t.Errorf("Capabilities = %v", cfg.Capabilities)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
}

func TestLoadWorkerRequiresAddress(t *testing.T) {
	t.Setenv("RUNNER_COMMAND", "process.sh")

	if _, err := LoadWorker(); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("LoadWorker() error = %v, want ErrConfiguration", err)
	}
}

func TestGetSecretFile(t *testing.T) {
	t.Parallel()

	// Empty path and missing file both resolve to empty.
	if got := GetSecretFile(""); got != "" {
		t.Errorf("GetSecretFile(\"\") = %q, want empty", got)
	}
	if got := GetSecretFile("/nonexistent/secret"); got != "" {
		t.Errorf("GetSecretFile(missing) = %q, want empty", got)
	}

	path := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := GetSecretFile(path); got != "s3cret" {
		t.Errorf("GetSecretFile() = %q, want trimmed s3cret", got)
	}
}

func TestManifest(t *testing.T) {
	t.Parallel()

	data := []byte(`
batchSize: 7
input:
  bucket: manifest-in
  prefix: raw/
output:
  bucket: manifest-out
notify:
  webhookUrl: https://hooks.example.com/done
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	cfg := &Orchestrator{BatchSize: 10, InputBucket: "env-in", OutputBucket: "env-out", OutputPrefix: "results/"}
	m.Apply(cfg)

	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cfg.BatchSize)
	}
	if cfg.InputBucket != "manifest-in" || cfg.InputPrefix != "raw/" {
		t.Errorf("input = %q/%q", cfg.InputBucket, cfg.InputPrefix)
	}
	if cfg.OutputBucket != "manifest-out" {
		t.Errorf("OutputBucket = %q, want manifest-out", cfg.OutputBucket)
	}
	// Unset manifest fields leave the environment value alone.
	if cfg.OutputPrefix != "results/" {
		t.Errorf("OutputPrefix = %q, want results/", cfg.OutputPrefix)
	}
	if cfg.CompletionWebhookURL != "https://hooks.example.com/done" {
		t.Errorf("CompletionWebhookURL = %q", cfg.CompletionWebhookURL)
	}
}

func TestManifestInvalidYAML(t *testing.T) {
	t.Parallel()
	if _, err := ParseManifest([]byte("batchSize: [nope")); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("ParseManifest() error = %v, want ErrConfiguration", err)
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadManifest("/nonexistent/manifest.yaml"); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("LoadManifest() error = %v, want ErrConfiguration", err)
	}
}
