package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"batchfleet/internal/apperrors"
)

// Manifest is the optional YAML job definition. Every field is optional and
// overrides the corresponding environment value, so a manifest can pin the
// job shape while deploy-time knobs stay in the environment.
type Manifest struct {
	BatchSize int `yaml:"batchSize"`

	Input struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"input"`
	Output struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"output"`

	Notify struct {
		WebhookURL string `yaml:"webhookUrl"`
	} `yaml:"notify"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Configuration("JOB_MANIFEST", err.Error())
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, apperrors.Configuration("JOB_MANIFEST", err.Error())
	}
	return m, nil
}

// Apply overlays the manifest's set fields onto the configuration.
func (m *Manifest) Apply(cfg *Orchestrator) {
	if m.BatchSize > 0 {
		cfg.BatchSize = m.BatchSize
	}
	if m.Input.Bucket != "" {
		cfg.InputBucket = m.Input.Bucket
	}
	if m.Input.Prefix != "" {
		cfg.InputPrefix = m.Input.Prefix
	}
	if m.Output.Bucket != "" {
		cfg.OutputBucket = m.Output.Bucket
	}
	if m.Output.Prefix != "" {
		cfg.OutputPrefix = m.Output.Prefix
	}
	if m.Notify.WebhookURL != "" {
		cfg.CompletionWebhookURL = m.Notify.WebhookURL
	}
}
