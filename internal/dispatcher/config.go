package dispatcher

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// MemoryConfig holds configuration for the in-memory dispatcher. A single job
// has few notification targets, so the defaults are deliberately small.
type MemoryConfig struct {
	BufferSize  int           `env:"DISPATCHER_BUFFER_SIZE" envDefault:"1000"`
	Workers     int           `env:"DISPATCHER_WORKERS" envDefault:"4"`
	HTTPTimeout time.Duration `env:"DISPATCHER_HTTP_TIMEOUT" envDefault:"10s"`
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{}
	if err := env.Parse(&cfg); err != nil {
		return MemoryConfig{}.withDefaults()
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
