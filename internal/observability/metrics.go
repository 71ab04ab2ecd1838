package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/batches take
// - Traffic: Request/batch throughput
// - Errors: Rate of failures and reclamations
// - Saturation: Pool sizes and active workers
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Dispatch metrics (Latency, Traffic, Errors, Saturation)
	BatchDuration     metric.Float64Histogram
	BatchesAssigned   metric.Int64Counter
	BatchesCompleted  metric.Int64Counter
	BatchesFailed     metric.Int64Counter
	BatchesReclaimed  metric.Int64Counter
	BatchesAbandoned  metric.Int64Counter
	PendingBatches    metric.Int64Gauge
	InFlightBatches   metric.Int64Gauge
	WorkersRegistered metric.Int64Counter
	WorkersByState    metric.Int64Gauge

	// Notifier dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("batchfleet")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatch metrics
	m.BatchDuration, err = meter.Float64Histogram(
		"batch_duration_seconds",
		metric.WithDescription("Time from assignment to completed report in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesAssigned, err = meter.Int64Counter(
		"batches_assigned_total",
		metric.WithDescription("Total batch assignments handed to workers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesCompleted, err = meter.Int64Counter(
		"batches_completed_total",
		metric.WithDescription("Total batches retired on success"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesFailed, err = meter.Int64Counter(
		"batches_failed_total",
		metric.WithDescription("Total failed batch reports (batch returned to pending)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesReclaimed, err = meter.Int64Counter(
		"batches_reclaimed_total",
		metric.WithDescription("Total timeout reclamations, by deadline kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesAbandoned, err = meter.Int64Counter(
		"batches_abandoned_total",
		metric.WithDescription("Total batches dead-lettered after exceeding the retry budget"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PendingBatches, err = meter.Int64Gauge(
		"pending_batches",
		metric.WithDescription("Current number of unassigned batches (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.InFlightBatches, err = meter.Int64Gauge(
		"in_flight_batches",
		metric.WithDescription("Current number of batches held by workers (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WorkersRegistered, err = meter.Int64Counter(
		"workers_registered_total",
		metric.WithDescription("Total worker registrations"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WorkersByState, err = meter.Int64Gauge(
		"workers_by_state",
		metric.WithDescription("Current number of workers in each lifecycle state"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notifier dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total notifications successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total notifications failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total notifications dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total notifications requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of notifications in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordWorkerRegistered records a new worker joining the registry.
func (m *Metrics) RecordWorkerRegistered(ctx context.Context) {
	m.WorkersRegistered.Add(ctx, 1)
}

// RecordBatchAssigned records a batch being handed to a worker.
func (m *Metrics) RecordBatchAssigned(ctx context.Context) {
	m.BatchesAssigned.Add(ctx, 1)
}

// RecordBatchCompleted records a batch retiring on success.
func (m *Metrics) RecordBatchCompleted(ctx context.Context, durationSeconds float64) {
	m.BatchesCompleted.Add(ctx, 1)
	m.BatchDuration.Record(ctx, durationSeconds)
}

// RecordBatchFailed records a failed report returning a batch to pending.
func (m *Metrics) RecordBatchFailed(ctx context.Context) {
	m.BatchesFailed.Add(ctx, 1)
}

// RecordBatchReclaimed records a timeout reclamation. Kind is "ack" or "processing".
func (m *Metrics) RecordBatchReclaimed(ctx context.Context, kind string) {
	m.BatchesReclaimed.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordBatchAbandoned records a batch dead-lettered past its retry budget.
func (m *Metrics) RecordBatchAbandoned(ctx context.Context) {
	m.BatchesAbandoned.Add(ctx, 1)
}

// RecordPoolSizes records the current size of the batch pools.
func (m *Metrics) RecordPoolSizes(ctx context.Context, pending, inFlight int64) {
	m.PendingBatches.Record(ctx, pending)
	m.InFlightBatches.Record(ctx, inFlight)
}

// RecordWorkersByState records the current worker count for one state.
func (m *Metrics) RecordWorkersByState(ctx context.Context, state string, count int64) {
	m.WorkersByState.Record(ctx, count, metric.WithAttributes(stateAttr(state)))
}

// RecordDispatcherDelivered records a successful notification delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed notification delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped notification.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued notification.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
