package api

import (
	"net/http"

	"batchfleet/internal/dispatch"
	"batchfleet/internal/health"
	"batchfleet/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Engine        *dispatch.Engine
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Engine, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Worker protocol and dashboard endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/workers", authMiddleware(http.HandlerFunc(handler.RegisterWorker)))
	mux.Handle("GET /v1/workers", authMiddleware(http.HandlerFunc(handler.ListWorkers)))
	mux.Handle("GET /v1/workers/{workerId}/assignment", authMiddleware(http.HandlerFunc(handler.GetAssignment)))
	mux.Handle("POST /v1/workers/{workerId}/ack", authMiddleware(http.HandlerFunc(handler.AckAssignment)))
	mux.Handle("POST /v1/workers/{workerId}/status", authMiddleware(http.HandlerFunc(handler.ReportStatus)))
	mux.Handle("GET /v1/stats", authMiddleware(http.HandlerFunc(handler.GetStats)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
