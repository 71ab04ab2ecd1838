// Package notify delivers the one-time job completion notification.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"batchfleet/internal/dispatch"
	"batchfleet/internal/dispatcher"
	"batchfleet/pkg/cloudevent"
)

// EventTypeCompleted is the CloudEvent type emitted when all work is done.
const EventTypeCompleted = "batchfleet.job.completed"

// Log writes the completion notification to the log. It is the default when
// no webhook is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog() *Log {
	return &Log{logger: slog.With("component", "notify")}
}

func (l *Log) NotifyCompletion(_ context.Context, stats dispatch.Stats) error {
	l.logger.Info("Job completed",
		"completed", stats.Completed,
		"abandoned", stats.Abandoned,
		"workers", len(stats.Workers),
	)
	return nil
}

// Webhook posts a signed CloudEvent to the configured endpoint via the async
// dispatcher, so delivery retries and circuit breaking come for free.
type Webhook struct {
	dispatcher dispatcher.Dispatcher
	url        string
	jobID      string
	signingKey string
	logger     *slog.Logger
}

// NewWebhook creates a webhook notifier. signingKey may be empty.
func NewWebhook(d dispatcher.Dispatcher, url, jobID, signingKey string) *Webhook {
	return &Webhook{
		dispatcher: d,
		url:        url,
		jobID:      jobID,
		signingKey: signingKey,
		logger:     slog.With("component", "notify"),
	}
}

func (w *Webhook) NotifyCompletion(_ context.Context, stats dispatch.Stats) error {
	workers := make(map[string]int, len(stats.Workers))
	for state, n := range stats.Workers {
		workers[string(state)] = n
	}

	event := cloudevent.New(EventTypeCompleted, "batchfleet/orchestrator", w.jobID, uuid.NewString(), map[string]any{
		"completedBatches": stats.Completed,
		"abandonedBatches": stats.Abandoned,
		"workers":          workers,
		"completedAt":      time.Now().UTC().Format(time.RFC3339),
	})

	if err := w.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: w.url,
		SigningKey:  w.signingKey,
	}); err != nil {
		return err
	}
	w.logger.Info("Completion notification queued", "url", w.url, "jobId", w.jobID)
	return nil
}

var (
	_ dispatch.Notifier = (*Log)(nil)
	_ dispatch.Notifier = (*Webhook)(nil)
)
