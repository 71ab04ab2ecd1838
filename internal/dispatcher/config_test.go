package dispatcher

import (
	"testing"
	"time"
)

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   MemoryConfig
		want MemoryConfig
	}{
		{
			name: "zero values",
			in:   MemoryConfig{},
			want: MemoryConfig{BufferSize: 1000, Workers: 4, HTTPTimeout: 10 * time.Second},
		},
		{
			name: "negative values",
			in:   MemoryConfig{BufferSize: -1, Workers: -1, HTTPTimeout: -1},
			want: MemoryConfig{BufferSize: 1000, Workers: 4, HTTPTimeout: 10 * time.Second},
		},
		{
			name: "valid values preserved",
			in:   MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second},
			want: MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_BUFFER_SIZE", "50")
	t.Setenv("DISPATCHER_WORKERS", "2")

	cfg := LoadConfigFromEnv()
	if cfg.BufferSize != 50 {
		t.Errorf("BufferSize = %d, want 50", cfg.BufferSize)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want default 10s", cfg.HTTPTimeout)
	}
}
