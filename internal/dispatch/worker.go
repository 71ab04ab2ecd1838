package dispatch

import (
	"time"
)

// State is a worker lifecycle state. Exactly one state is active per worker
// at any time.
type State string

const (
	// StateRegistered is an idle worker awaiting assignment.
	StateRegistered State = "registered"
	// StateAssigned is a worker that has been handed a batch but has not
	// acknowledged it yet. The ack deadline applies.
	StateAssigned State = "assigned"
	// StateAcknowledged is a worker that confirmed receipt of its batch.
	// The processing deadline applies from the ack timestamp.
	StateAcknowledged State = "acknowledged"
	// StateProcessing is a worker actively working its batch.
	StateProcessing State = "processing"
	// StateShuttingDown is a worker that has been directed to leave, or that
	// reported leaving voluntarily.
	StateShuttingDown State = "shutting-down"
	// StateTerminated is a worker that confirmed its shutdown report.
	StateTerminated State = "terminated"
	// StateUnreachable is a worker excluded from assignment after repeated
	// timeout reclamations. Terminal for quiescence purposes.
	StateUnreachable State = "unreachable"
)

// Terminal reports whether the state counts toward global quiescence.
// Unreachable workers count as terminal: a worker that died silently must not
// block job completion forever.
func (s State) Terminal() bool {
	return s == StateShuttingDown || s == StateTerminated || s == StateUnreachable
}

// holdsBatch reports whether a worker in this state owns an in-flight batch.
func (s State) holdsBatch() bool {
	return s == StateAssigned || s == StateAcknowledged || s == StateProcessing
}

// Details carries the opaque attributes a worker supplies at registration.
type Details struct {
	Hostname     string   `json:"hostname,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HistoryEvent is one entry in a worker's append-only event history,
// surfaced in snapshots for the dashboard.
type HistoryEvent struct {
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// worker is the registry's record for one polling agent. Owned exclusively by
// the Engine; all access happens under the Engine mutex.
type worker struct {
	id             string
	details        Details
	state          State
	batch          *Batch // non-nil iff state holds a batch
	lastContact    time.Time
	assignedAt     time.Time // set on assignment, cleared on ack
	ackedAt        time.Time // set on ack, processing-deadline baseline
	timeoutStrikes int       // consecutive reclamations
	history        []HistoryEvent
}

func (w *worker) record(now time.Time, status, detail string) {
	w.history = append(w.history, HistoryEvent{Status: status, Detail: detail, Time: now})
}

// setState advances the worker's state and appends a history entry.
func (w *worker) setState(now time.Time, s State, detail string) {
	w.state = s
	w.record(now, string(s), detail)
}

// WorkerView is a consistent point-in-time copy of one worker's record,
// returned by Snapshot for the dashboard and the completion coordinator.
type WorkerView struct {
	ID             string         `json:"id"`
	Details        Details        `json:"details"`
	State          State          `json:"state"`
	Batch          *Batch         `json:"batch,omitempty"`
	LastContact    time.Time      `json:"lastContact"`
	AssignedAt     time.Time      `json:"assignedAt,omitzero"`
	AckedAt        time.Time      `json:"ackedAt,omitzero"`
	TimeoutStrikes int            `json:"timeoutStrikes,omitempty"`
	Elapsed        float64        `json:"elapsedSeconds,omitempty"`       // time spent processing so far
	TimeToTimeout  float64        `json:"timeToTimeoutSeconds,omitempty"` // remaining before reclamation
	History        []HistoryEvent `json:"history,omitempty"`
}
