// Package api provides the HTTP API handlers and routing for the orchestrator.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"batchfleet/internal/apperrors"
	"batchfleet/internal/dispatch"
	"batchfleet/internal/health"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the fleet API
type Handler struct {
	engine *dispatch.Engine
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(engine *dispatch.Engine, healthChecker *health.Checker) *Handler {
	return &Handler{
		engine: engine,
		health: healthChecker,
	}
}

// RegisterRequest is the body of POST /v1/workers.
type RegisterRequest struct {
	Hostname     string   `json:"hostname"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResponse carries the identifier the worker must use from now on.
type RegisterResponse struct {
	WorkerID string `json:"workerId"`
}

// RegisterWorker handles POST /v1/workers
func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id := h.engine.Register(dispatch.Details{
		Hostname:     req.Hostname,
		Capabilities: req.Capabilities,
	})
	h.writeJSON(w, http.StatusCreated, RegisterResponse{WorkerID: id})
}

// GetAssignment handles GET /v1/workers/{workerId}/assignment
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerId")
	if workerID == "" {
		h.writeError(w, http.StatusBadRequest, "Worker ID is required")
		return
	}

	assignment, err := h.engine.RequestAssignment(workerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, assignment)
}

// AckAssignment handles POST /v1/workers/{workerId}/ack
func (h *Handler) AckAssignment(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerId")
	if workerID == "" {
		h.writeError(w, http.StatusBadRequest, "Worker ID is required")
		return
	}

	if err := h.engine.Acknowledge(workerID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusRequest is the body of POST /v1/workers/{workerId}/status.
type StatusRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ReportStatus handles POST /v1/workers/{workerId}/status
func (h *Handler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerId")
	if workerID == "" {
		h.writeError(w, http.StatusBadRequest, "Worker ID is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "Status is required")
		return
	}

	if err := h.engine.ReportStatus(workerID, req.Status, req.Detail); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWorkers handles GET /v1/workers - the dashboard view.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"workers": h.engine.Snapshot(),
	})
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (object store) are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the engine with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
