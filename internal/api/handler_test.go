package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"batchfleet/internal/dispatch"
	"batchfleet/internal/health"
)

func testRouter(t *testing.T, files []string, batchSize int, apiKey string) http.Handler {
	t.Helper()
	batches, err := dispatch.Partition(files, dispatch.Buckets{
		InputBucket:  "mem://in",
		OutputBucket: "mem://out",
	}, batchSize)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	engine := dispatch.NewEngine(dispatch.Config{}, batches, nil)

	checker := health.NewChecker(map[string]health.ReadinessChecker{
		"storage": health.ReadyFunc(func(ctx context.Context) error { return nil }),
	})
	return NewRouter(RouterConfig{
		Engine:        engine,
		HealthChecker: checker,
		APIKey:        apiKey,
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerWorker(t *testing.T, router http.Handler) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/workers", RegisterRequest{Hostname: "test-host"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RegisterResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.WorkerID == "" {
		t.Fatal("empty worker ID")
	}
	return resp.WorkerID
}

func TestLivez(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")

	w := doJSON(t, router, http.MethodGet, "/livez", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")

	w := doJSON(t, router, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	var response health.Response
	json.NewDecoder(w.Body).Decode(&response)
	if response.Status != health.StatusHealthy {
		t.Errorf("status = %s, want healthy", response.Status)
	}
}

func TestWorkerProtocol(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"f1", "f2", "f3"}, 2, "")
	id := registerWorker(t, router)

	// First poll gets batch-0001.
	w := doJSON(t, router, http.MethodGet, "/v1/workers/"+id+"/assignment", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("assignment status = %d, body = %s", w.Code, w.Body.String())
	}
	var assignment dispatch.Assignment
	if err := json.NewDecoder(w.Body).Decode(&assignment); err != nil {
		t.Fatal(err)
	}
	if assignment.Directive != dispatch.DirectiveBatch || assignment.Batch == nil {
		t.Fatalf("assignment = %+v, want batch directive", assignment)
	}
	if len(assignment.Batch.Files) != 2 {
		t.Errorf("batch files = %v, want 2 files", assignment.Batch.Files)
	}

	// Ack, then walk the batch to completion.
	if w := doJSON(t, router, http.MethodPost, "/v1/workers/"+id+"/ack", nil); w.Code != http.StatusNoContent {
		t.Fatalf("ack status = %d, body = %s", w.Code, w.Body.String())
	}
	for _, status := range []string{dispatch.StatusProcessing, dispatch.StatusCompleted} {
		w := doJSON(t, router, http.MethodPost, "/v1/workers/"+id+"/status", StatusRequest{Status: status})
		if w.Code != http.StatusNoContent {
			t.Fatalf("status %q: code = %d, body = %s", status, w.Code, w.Body.String())
		}
	}

	// Stats show the progress.
	w = doJSON(t, router, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats dispatch.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want 1 completed, 1 pending", stats)
	}
}

func TestAssignmentUnknownWorker(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")

	w := doJSON(t, router, http.MethodGet, "/v1/workers/no-such-id/assignment", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAckWithoutAssignment(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")
	id := registerWorker(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/workers/"+id+"/ack", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestReportStatusValidation(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")
	id := registerWorker(t, router)

	// Missing status field.
	w := doJSON(t, router, http.MethodPost, "/v1/workers/"+id+"/status", StatusRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty status: code = %d, want 400", w.Code)
	}

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/v1/workers/"+id+"/status", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: code = %d, want 400", rec.Code)
	}
}

func TestListWorkers(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")
	registerWorker(t, router)
	registerWorker(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/workers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Workers []dispatch.WorkerView `json:"workers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Workers) != 2 {
		t.Errorf("workers = %d, want 2", len(resp.Workers))
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "test-key")

	// No token.
	w := doJSON(t, router, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d, want 401", w.Code)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: code = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: code = %d, want 200", rec.Code)
	}

	// Probes stay open.
	w = doJSON(t, router, http.MethodGet, "/livez", nil)
	if w.Code != http.StatusOK {
		t.Errorf("livez with auth enabled: code = %d, want 200", w.Code)
	}
}

func TestContentTypeRejected(t *testing.T) {
	t.Parallel()
	router := testRouter(t, []string{"a"}, 1, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/workers", strings.NewReader("<xml/>"))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("code = %d, want 415", rec.Code)
	}
}
