package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Reclamation kinds, recorded on the reclaim counter.
const (
	reclaimKindAck        = "ack"
	reclaimKindProcessing = "processing"
)

// ReclaimExpired scans for workers whose ack or processing deadline has
// passed relative to now, returns their batches to the head of pending, and
// returns the number of batches reclaimed. A worker that accumulates
// MaxTimeoutStrikes consecutive reclamations is marked unreachable and no
// longer receives assignments.
//
// Taking now as a parameter keeps the deadline arithmetic testable without a
// clock abstraction.
func (e *Engine) ReclaimExpired(now time.Time) int {
	type reclaimed struct {
		workerID string
		batchID  string
		kind     string
		elapsed  time.Duration
	}

	e.mu.Lock()
	var hits []reclaimed
	for _, w := range e.workers {
		var kind string
		var elapsed time.Duration

		switch w.state {
		case StateAssigned:
			elapsed = now.Sub(w.assignedAt)
			if elapsed <= e.cfg.AckTimeout {
				continue
			}
			kind = reclaimKindAck
		case StateAcknowledged, StateProcessing:
			elapsed = now.Sub(w.ackedAt)
			if elapsed <= e.cfg.ProcessingTimeout {
				continue
			}
			kind = reclaimKindProcessing
		default:
			continue
		}

		batch := w.batch
		delete(e.inFlight, w.id)
		e.requeueHead(batch)

		w.batch = nil
		w.assignedAt = time.Time{}
		w.ackedAt = time.Time{}
		w.timeoutStrikes++
		w.record(now, "reclaimed", batch.ID)
		if w.timeoutStrikes >= e.cfg.MaxTimeoutStrikes {
			w.setState(now, StateUnreachable, "timeout strikes exhausted")
		} else {
			w.setState(now, StateRegistered, "")
		}

		hits = append(hits, reclaimed{workerID: w.id, batchID: batch.ID, kind: kind, elapsed: elapsed})
	}
	pending, inFlight := len(e.pending), len(e.inFlight)
	e.mu.Unlock()

	if len(hits) == 0 {
		return 0
	}

	for _, h := range hits {
		if e.metrics != nil {
			e.metrics.RecordBatchReclaimed(context.Background(), h.kind)
		}
		e.logger.Warn("Batch reclaimed from stalled worker",
			"workerId", h.workerID, "batchId", h.batchID, "kind", h.kind, "elapsed", h.elapsed)
	}
	if e.metrics != nil {
		e.metrics.RecordPoolSizes(context.Background(), int64(pending), int64(inFlight))
	}

	e.changed()
	return len(hits)
}

// Monitor periodically reclaims expired assignments. It is the safety net
// that keeps a single crashed worker from stalling the whole job.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a monitor ticking at the given interval.
func NewMonitor(engine *Engine, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		engine:   engine,
		interval: interval,
		logger:   slog.With("component", "monitor"),
	}
}

// Run blocks until ctx is canceled, reclaiming expired assignments every
// interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Timeout monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Timeout monitor stopped")
			return
		case now := <-ticker.C:
			m.engine.ReclaimExpired(now)
		}
	}
}
