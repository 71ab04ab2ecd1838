package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"batchfleet/internal/apperrors"
	"batchfleet/internal/observability"
)

// Status values a worker may report.
const (
	StatusAck          = "ack"
	StatusProcessing   = "processing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
	StatusShuttingDown = "shutting-down"
)

// Directive tells a polling worker what to do next.
type Directive string

const (
	// DirectiveBatch carries a batch payload to process.
	DirectiveBatch Directive = "batch"
	// DirectiveWait tells the worker to poll again later: pending is empty
	// but in-flight work elsewhere may still be reclaimed and reassigned.
	DirectiveWait Directive = "wait"
	// DirectiveShutdown tells the worker all work is done and it should leave.
	DirectiveShutdown Directive = "shutdown"
)

// Assignment is the engine's answer to one poll.
type Assignment struct {
	Directive Directive `json:"directive"`
	Batch     *Batch    `json:"batch,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Config tunes the engine's fault-tolerance behavior.
type Config struct {
	// AckTimeout is how long an assigned worker has to acknowledge before
	// the assignment is reclaimed.
	AckTimeout time.Duration
	// ProcessingTimeout is how long an acknowledged worker has to finish
	// (measured from the ack) before its batch is reclaimed.
	ProcessingTimeout time.Duration
	// MaxTimeoutStrikes is the number of consecutive reclamations after
	// which a worker is marked unreachable and excluded from assignment.
	MaxTimeoutStrikes int
	// MaxBatchRetries caps how many times a batch may return to pending
	// after failures or reclamations. 0 means unlimited, which matches the
	// source system's behavior.
	MaxBatchRetries int
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 60 * time.Second
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 10 * time.Minute
	}
	if c.MaxTimeoutStrikes <= 0 {
		c.MaxTimeoutStrikes = 3
	}
	return c
}

// Stats is a point-in-time summary of the batch pools, exposed to the
// dashboard. The three pools partition the batch set: a batch is in exactly
// one of pending, in-flight or completed (abandoned batches are retired
// separately once their retry budget is exhausted).
type Stats struct {
	Pending   int           `json:"pending"`
	InFlight  int           `json:"inFlight"`
	Completed int           `json:"completed"`
	Abandoned int           `json:"abandoned,omitempty"`
	Workers   map[State]int `json:"workers"`
	Quiescent bool          `json:"quiescent"`
}

// Engine owns the worker registry and the batch pools. One mutex serializes
// every mutation, so a worker report and a timeout reclamation racing on the
// same worker resolve deterministically: whichever acquires the lock first
// wins, the other is rejected by the state guard.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	workers   map[string]*worker
	pending   []*Batch          // head at index 0, FIFO
	inFlight  map[string]*Batch // worker id -> batch
	completed map[string]struct{}
	abandoned map[string]struct{}
	retries   map[string]int // batch id -> times returned to pending

	metrics  *observability.Metrics
	logger   *slog.Logger
	onChange func() // completion coordinator hook, invoked outside the lock
}

// NewEngine creates an engine seeded with the partitioned batches.
func NewEngine(cfg Config, batches []*Batch, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		workers:   make(map[string]*worker),
		pending:   slices.Clone(batches),
		inFlight:  make(map[string]*Batch),
		completed: make(map[string]struct{}),
		abandoned: make(map[string]struct{}),
		retries:   make(map[string]int),
		metrics:   metrics,
		logger:    slog.With("component", "dispatch"),
	}
}

// OnChange registers a hook invoked after every state-mutating operation,
// outside the engine lock. Used by the completion coordinator.
func (e *Engine) OnChange(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = f
}

// allStates enumerates every worker state so the per-state gauge is
// refreshed even for states whose count has dropped back to zero.
var allStates = []State{
	StateRegistered, StateAssigned, StateAcknowledged, StateProcessing,
	StateShuttingDown, StateTerminated, StateUnreachable,
}

func (e *Engine) changed() {
	if e.metrics != nil {
		e.mu.Lock()
		counts := make(map[State]int, len(allStates))
		for _, w := range e.workers {
			counts[w.state]++
		}
		e.mu.Unlock()

		ctx := context.Background()
		for _, state := range allStates {
			e.metrics.RecordWorkersByState(ctx, string(state), int64(counts[state]))
		}
	}
	if e.onChange != nil {
		e.onChange()
	}
}

// Register allocates a fresh unique worker identifier and inserts the worker
// in the registered (idle) state. Never fails; UUIDs cannot collide across
// concurrent calls.
func (e *Engine) Register(details Details) string {
	id := uuid.NewString()
	now := time.Now()

	e.mu.Lock()
	w := &worker{
		id:          id,
		details:     details,
		state:       StateRegistered,
		lastContact: now,
	}
	w.record(now, "registered", details.Hostname)
	e.workers[id] = w
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordWorkerRegistered(context.Background())
	}
	e.logger.Info("Worker registered", "workerId", id, "hostname", details.Hostname)

	e.changed()
	return id
}

// RecordContact refreshes the worker's last-contact timestamp without any
// other state change. The assignment, ack and report paths all refresh the
// timestamp themselves; this is for callers that carry no protocol payload,
// like a future keep-alive endpoint.
func (e *Engine) RecordContact(workerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.workers[workerID]
	if !ok {
		return apperrors.UnknownWorker(workerID)
	}
	w.lastContact = time.Now()
	return nil
}

// RequestAssignment answers one poll from an idle worker. It pops the head of
// pending (FIFO, preserving discovery order), or directs the worker to wait
// while work is still in flight elsewhere, or directs it to shut down once no
// work remains anywhere. A worker that polls again while still assigned gets
// its current batch redelivered.
func (e *Engine) RequestAssignment(workerID string) (*Assignment, error) {
	now := time.Now()

	e.mu.Lock()
	w, ok := e.workers[workerID]
	if !ok {
		e.mu.Unlock()
		return nil, apperrors.UnknownWorker(workerID)
	}
	w.lastContact = now

	switch w.state {
	case StateRegistered:
		// fall through to assignment below

	case StateAssigned:
		// Redeliver: the previous response may have been lost in transit.
		batch := w.batch
		e.mu.Unlock()
		return &Assignment{Directive: DirectiveBatch, Batch: batch}, nil

	case StateShuttingDown, StateTerminated, StateUnreachable:
		// Idempotent: a dismissed worker keeps getting the same answer. An
		// unreachable worker was written off after repeated timeouts and is
		// not re-admitted even if batches remain; its state says why.
		state := w.state
		e.mu.Unlock()
		return &Assignment{
			Directive: DirectiveShutdown,
			Message:   fmt.Sprintf("worker is %s, no further assignments", state),
		}, nil

	default:
		state := w.state
		e.mu.Unlock()
		return nil, apperrors.InvalidTransition(workerID,
			fmt.Sprintf("cannot assign to worker in state %q", state))
	}

	if len(e.pending) == 0 {
		if len(e.inFlight) == 0 {
			// Nothing pending, nothing that could be reclaimed: done.
			w.setState(now, StateShuttingDown, "no work remaining")
			e.mu.Unlock()
			e.logger.Info("Directing worker to shut down", "workerId", workerID)
			e.changed()
			return &Assignment{Directive: DirectiveShutdown, Message: "all work completed"}, nil
		}
		// Work is still in flight elsewhere; it may yet be reclaimed and
		// reassigned, so the worker must not be told to leave.
		e.mu.Unlock()
		return &Assignment{Directive: DirectiveWait, Message: "no pending batches, work in flight"}, nil
	}

	batch := e.pending[0]
	e.pending = e.pending[1:]
	e.inFlight[workerID] = batch
	w.batch = batch
	w.assignedAt = now
	w.setState(now, StateAssigned, batch.ID)
	pending, inFlight := len(e.pending), len(e.inFlight)
	e.mu.Unlock()

	if e.metrics != nil {
		ctx := context.Background()
		e.metrics.RecordBatchAssigned(ctx)
		e.metrics.RecordPoolSizes(ctx, int64(pending), int64(inFlight))
	}
	e.logger.Info("Batch assigned", "workerId", workerID, "batchId", batch.ID, "files", len(batch.Files))

	e.changed()
	return &Assignment{Directive: DirectiveBatch, Batch: batch}, nil
}

// Acknowledge confirms receipt of an assignment. It clears the ack deadline
// and starts the processing deadline. A stale ack arriving after the
// assignment was reclaimed is rejected: another worker may own the batch now.
func (e *Engine) Acknowledge(workerID string) error {
	now := time.Now()

	e.mu.Lock()
	w, ok := e.workers[workerID]
	if !ok {
		e.mu.Unlock()
		return apperrors.UnknownWorker(workerID)
	}
	w.lastContact = now

	if w.state != StateAssigned {
		state := w.state
		e.mu.Unlock()
		return apperrors.InvalidTransition(workerID,
			fmt.Sprintf("ack requires state %q, worker is %q", StateAssigned, state))
	}

	w.assignedAt = time.Time{}
	w.ackedAt = now
	w.timeoutStrikes = 0
	w.setState(now, StateAcknowledged, w.batch.ID)
	e.mu.Unlock()

	e.changed()
	return nil
}

// ReportStatus applies a worker's status report. Stale or duplicate reports
// are rejected with InvalidTransition; the authoritative registry state wins.
func (e *Engine) ReportStatus(workerID, status, detail string) error {
	now := time.Now()

	e.mu.Lock()
	w, ok := e.workers[workerID]
	if !ok {
		e.mu.Unlock()
		return apperrors.UnknownWorker(workerID)
	}
	w.lastContact = now

	var err error
	switch status {
	case StatusProcessing:
		err = e.reportProcessing(now, w, detail)
	case StatusCompleted:
		err = e.reportCompleted(now, w, detail)
	case StatusFailed:
		err = e.reportFailed(now, w, detail)
	case StatusShuttingDown:
		e.reportShuttingDown(now, w, detail)
	default:
		err = apperrors.InvalidTransition(workerID, fmt.Sprintf("unknown status %q", status))
	}
	pending, inFlight := len(e.pending), len(e.inFlight)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("Status report rejected", "workerId", workerID, "status", status, "error", err)
		return err
	}

	if e.metrics != nil {
		e.metrics.RecordPoolSizes(context.Background(), int64(pending), int64(inFlight))
	}
	e.logger.Info("Status reported", "workerId", workerID, "status", status)

	e.changed()
	return nil
}

// reportProcessing handles the acknowledged -> processing transition.
// Idempotent if the worker is already processing. Caller holds the lock.
func (e *Engine) reportProcessing(now time.Time, w *worker, detail string) error {
	switch w.state {
	case StateProcessing:
		return nil
	case StateAcknowledged:
		w.setState(now, StateProcessing, detail)
		return nil
	default:
		return apperrors.InvalidTransition(w.id,
			fmt.Sprintf("processing report requires state %q, worker is %q", StateAcknowledged, w.state))
	}
}

// reportCompleted retires the worker's batch permanently and returns the
// worker to the idle pool. Caller holds the lock.
func (e *Engine) reportCompleted(now time.Time, w *worker, detail string) error {
	if w.state != StateProcessing {
		return apperrors.InvalidTransition(w.id,
			fmt.Sprintf("completed report requires state %q, worker is %q", StateProcessing, w.state))
	}

	batch := w.batch
	delete(e.inFlight, w.id)
	e.completed[batch.ID] = struct{}{}

	elapsed := now.Sub(w.ackedAt).Seconds()
	w.batch = nil
	w.ackedAt = time.Time{}
	w.timeoutStrikes = 0
	w.record(now, StatusCompleted, batch.ID)
	// Completed is transient: the worker is immediately idle again.
	w.setState(now, StateRegistered, detail)

	if e.metrics != nil {
		e.metrics.RecordBatchCompleted(context.Background(), elapsed)
	}
	return nil
}

// reportFailed returns the worker's batch to the head of pending so it is
// retried promptly rather than starved at the tail. Caller holds the lock.
func (e *Engine) reportFailed(now time.Time, w *worker, detail string) error {
	if !w.state.holdsBatch() {
		return apperrors.InvalidTransition(w.id,
			fmt.Sprintf("failed report requires an in-flight batch, worker is %q", w.state))
	}

	batch := w.batch
	delete(e.inFlight, w.id)
	e.requeueHead(batch)

	w.batch = nil
	w.assignedAt = time.Time{}
	w.ackedAt = time.Time{}
	w.record(now, StatusFailed, detail)
	w.setState(now, StateRegistered, "")

	if e.metrics != nil {
		e.metrics.RecordBatchFailed(context.Background())
	}
	return nil
}

// reportShuttingDown handles a worker leaving voluntarily. Any held batch is
// returned to pending exactly as on failure. A second shutting-down report
// confirms termination. Caller holds the lock.
func (e *Engine) reportShuttingDown(now time.Time, w *worker, detail string) {
	if w.batch != nil {
		delete(e.inFlight, w.id)
		e.requeueHead(w.batch)
		w.batch = nil
		w.assignedAt = time.Time{}
		w.ackedAt = time.Time{}
	}

	if w.state == StateShuttingDown {
		w.setState(now, StateTerminated, detail)
		return
	}
	w.setState(now, StateShuttingDown, detail)
}

// requeueHead returns a batch to the head of pending, or abandons it if a
// retry budget is configured and exhausted. Caller holds the lock.
func (e *Engine) requeueHead(batch *Batch) {
	e.retries[batch.ID]++
	if e.cfg.MaxBatchRetries > 0 && e.retries[batch.ID] > e.cfg.MaxBatchRetries {
		e.abandoned[batch.ID] = struct{}{}
		e.logger.Warn("Batch abandoned, retry budget exhausted",
			"batchId", batch.ID, "retries", e.retries[batch.ID]-1)
		if e.metrics != nil {
			e.metrics.RecordBatchAbandoned(context.Background())
		}
		return
	}
	e.pending = append([]*Batch{batch}, e.pending...)
}

// Snapshot returns a consistent point-in-time view of all workers.
func (e *Engine) Snapshot() []WorkerView {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]WorkerView, 0, len(e.workers))
	for _, w := range e.workers {
		v := WorkerView{
			ID:             w.id,
			Details:        w.details,
			State:          w.state,
			Batch:          w.batch,
			LastContact:    w.lastContact,
			AssignedAt:     w.assignedAt,
			AckedAt:        w.ackedAt,
			TimeoutStrikes: w.timeoutStrikes,
			History:        slices.Clone(w.history),
		}
		if (w.state == StateAcknowledged || w.state == StateProcessing) && !w.ackedAt.IsZero() {
			v.Elapsed = now.Sub(w.ackedAt).Seconds()
			v.TimeToTimeout = max(e.cfg.ProcessingTimeout.Seconds()-v.Elapsed, 0)
		}
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b WorkerView) int {
		return a.LastContact.Compare(b.LastContact)
	})
	return views
}

// Stats returns the current pool sizes and worker counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Pending:   len(e.pending),
		InFlight:  len(e.inFlight),
		Completed: len(e.completed),
		Abandoned: len(e.abandoned),
		Workers:   make(map[State]int),
	}
	for _, w := range e.workers {
		s.Workers[w.state]++
	}
	s.Quiescent = e.quiescentLocked()
	return s
}

// Quiescent reports whether the global-completion invariant holds: no batch
// pending or in flight, and every known worker in a terminal state.
func (e *Engine) Quiescent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quiescentLocked()
}

func (e *Engine) quiescentLocked() bool {
	if len(e.pending) != 0 || len(e.inFlight) != 0 {
		return false
	}
	for _, w := range e.workers {
		if !w.state.Terminal() {
			return false
		}
	}
	return true
}
