// Package directory implements service discovery over a shared bucket. The
// orchestrator publishes its advertise URL as a well-known object at startup;
// workers that boot without a configured address look it up there. This
// replaces a hardcoded endpoint with a rendezvous both sides already have
// credentials for.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"batchfleet/internal/storage"
)

// Key is the well-known object holding the orchestrator address.
const Key = "orchestrator-url"

// Directory publishes and resolves the orchestrator address.
type Directory struct {
	store  *storage.Store
	logger *slog.Logger
}

// Open opens the directory bucket.
func Open(ctx context.Context, bucketURL string) (*Directory, error) {
	store, err := storage.Open(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// New wraps an already-open store.
func New(store *storage.Store) *Directory {
	return &Directory{
		store:  store,
		logger: slog.With("component", "directory"),
	}
}

// Close releases the underlying bucket.
func (d *Directory) Close() error {
	return d.store.Close()
}

// Publish records the orchestrator address, replacing any previous value.
func (d *Directory) Publish(ctx context.Context, advertiseURL string) error {
	if err := d.store.WriteString(ctx, Key, advertiseURL); err != nil {
		return fmt.Errorf("publish orchestrator address: %w", err)
	}
	d.logger.Info("Orchestrator address published", "url", advertiseURL)
	return nil
}

// Lookup resolves the current orchestrator address.
func (d *Directory) Lookup(ctx context.Context) (string, error) {
	value, err := d.store.ReadString(ctx, Key)
	if err != nil {
		return "", fmt.Errorf("resolve orchestrator address: %w", err)
	}
	url := strings.TrimSpace(value)
	if url == "" {
		return "", fmt.Errorf("directory entry %q is empty", Key)
	}
	return url, nil
}
