// Package config provides configuration loading from environment variables
// and the optional YAML job manifest.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"batchfleet/internal/apperrors"
)

// Orchestrator holds configuration for the orchestrator service.
type Orchestrator struct {
	Port        string `env:"PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	APIKeyFile  string `env:"API_KEY_FILE"`
	APIKey      string `env:"-"` // resolved from APIKeyFile, never from the environment

	BatchSize         int           `env:"BATCH_SIZE" envDefault:"10"`
	AckTimeout        time.Duration `env:"ACK_TIMEOUT" envDefault:"60s"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"10m"`
	MonitorInterval   time.Duration `env:"MONITOR_INTERVAL" envDefault:"10s"`
	MaxTimeoutStrikes int           `env:"MAX_TIMEOUT_STRIKES" envDefault:"3"`
	MaxBatchRetries   int           `env:"MAX_BATCH_RETRIES" envDefault:"0"`

	InputBucket  string `env:"INPUT_BUCKET"`
	InputPrefix  string `env:"INPUT_PREFIX"`
	OutputBucket string `env:"OUTPUT_BUCKET"`
	OutputPrefix string `env:"OUTPUT_PREFIX"`
	// SkipProcessed excludes input files that already have a matching output
	// object, letting an interrupted job resume without redoing work.
	SkipProcessed bool `env:"SKIP_PROCESSED" envDefault:"true"`

	ManifestPath string `env:"JOB_MANIFEST"`

	// DirectoryURL is a blob URL (s3://, file://, mem://) where the
	// orchestrator publishes its advertise address for workers to discover.
	DirectoryURL string `env:"DIRECTORY_URL"`
	AdvertiseURL string `env:"ADVERTISE_URL"`

	CompletionWebhookURL string        `env:"COMPLETION_WEBHOOK_URL"`
	ShutdownDrainWait    time.Duration `env:"SHUTDOWN_DRAIN_WAIT" envDefault:"5s"`
}

// LoadOrchestrator parses orchestrator configuration from the environment,
// applies the job manifest if one is configured, and validates the result.
func LoadOrchestrator() (*Orchestrator, error) {
	cfg := &Orchestrator{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.Configuration("env", err.Error())
	}
	cfg.APIKey = GetSecretFile(cfg.APIKeyFile)

	if cfg.ManifestPath != "" {
		m, err := LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		m.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that would otherwise surface as confusing
// mid-job failures.
func (c *Orchestrator) Validate() error {
	if c.BatchSize <= 0 {
		return apperrors.Configuration("BATCH_SIZE", "batch size must be positive")
	}
	if c.AckTimeout <= 0 {
		return apperrors.Configuration("ACK_TIMEOUT", "ack timeout must be positive")
	}
	if c.ProcessingTimeout <= 0 {
		return apperrors.Configuration("PROCESSING_TIMEOUT", "processing timeout must be positive")
	}
	if c.InputBucket == "" {
		return apperrors.Configuration("INPUT_BUCKET", "input bucket is required")
	}
	if c.OutputBucket == "" {
		return apperrors.Configuration("OUTPUT_BUCKET", "output bucket is required")
	}
	if c.DirectoryURL != "" && c.AdvertiseURL == "" {
		return apperrors.Configuration("ADVERTISE_URL", "advertise URL is required when a directory is configured")
	}
	return nil
}

// Worker holds configuration for the worker agent.
type Worker struct {
	// OrchestratorURL points directly at the orchestrator. When empty, the
	// worker looks the address up in the directory instead.
	OrchestratorURL string `env:"ORCHESTRATOR_URL"`
	DirectoryURL    string `env:"DIRECTORY_URL"`
	APIKeyFile      string `env:"API_KEY_FILE"`
	APIKey          string `env:"-"`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	WorkDir string `env:"WORK_DIR" envDefault:"/tmp/batchfleet"`

	// RunnerImage is the container image that processes one batch; its
	// command receives the input directory and must fill the output
	// directory. When empty the worker runs RunnerCommand on the host.
	RunnerImage   string   `env:"RUNNER_IMAGE"`
	RunnerCommand []string `env:"RUNNER_COMMAND" envSeparator:" "`

	Hostname     string   `env:"HOSTNAME"`
	Capabilities []string `env:"CAPABILITIES" envSeparator:","`
}

// LoadWorker parses worker configuration from the environment.
func LoadWorker() (*Worker, error) {
	cfg := &Worker{}
	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.Configuration("env", err.Error())
	}
	cfg.APIKey = GetSecretFile(cfg.APIKeyFile)

	if cfg.OrchestratorURL == "" && cfg.DirectoryURL == "" {
		return nil, apperrors.Configuration("ORCHESTRATOR_URL",
			"either an orchestrator URL or a directory URL is required")
	}
	if len(cfg.RunnerCommand) == 0 {
		return nil, apperrors.Configuration("RUNNER_COMMAND", "runner command is required")
	}
	return cfg, nil
}
