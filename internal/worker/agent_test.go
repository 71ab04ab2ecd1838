package worker

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"batchfleet/internal/api"
	"batchfleet/internal/client"
	"batchfleet/internal/config"
	"batchfleet/internal/dispatch"
	"batchfleet/internal/health"
	"batchfleet/internal/runtime"
	"batchfleet/internal/storage"
	"batchfleet/internal/testutil"
)

// copyRunner copies input files to the output directory.
func copyRunner(t *testing.T) runtime.Runner {
	t.Helper()
	r, err := runtime.NewExecRunner([]string{"sh", "-c", `cp "$INPUT_DIR"/* "$OUTPUT_DIR"/ 2>/dev/null || true`})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

type fixture struct {
	engine *dispatch.Engine
	server *httptest.Server
	input  *storage.Store
	output *storage.Store
}

// newFixture stands up a real orchestrator (engine + HTTP API) over local
// file buckets. The worker re-opens the buckets by URL, exactly as it would
// an object store in production, so both sides must see the same data; mem://
// cannot do that because every open creates a fresh bucket.
func newFixture(t *testing.T, files []string, batchSize int) *fixture {
	t.Helper()
	ctx := context.Background()

	// metadata=skip keeps fileblob from writing .attrs sidecar files that
	// would show up in listings.
	inputURL := "file://" + t.TempDir() + "?create_dir=1&metadata=skip"
	outputURL := "file://" + t.TempDir() + "?create_dir=1&metadata=skip"

	input, err := storage.Open(ctx, inputURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { input.Close() })
	output, err := storage.Open(ctx, outputURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { output.Close() })

	for _, f := range files {
		if err := input.WriteString(ctx, f, "content-"+f); err != nil {
			t.Fatal(err)
		}
	}

	batches, err := dispatch.Partition(files, dispatch.Buckets{
		InputBucket:  inputURL,
		OutputBucket: outputURL,
	}, batchSize)
	if err != nil {
		t.Fatal(err)
	}
	engine := dispatch.NewEngine(dispatch.Config{}, batches, nil)

	router := api.NewRouter(api.RouterConfig{
		Engine: engine,
		HealthChecker: health.NewChecker(map[string]health.ReadinessChecker{
			"storage": health.ReadyFunc(func(ctx context.Context) error { return nil }),
		}),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{engine: engine, server: server, input: input, output: output}
}

func testWorkerConfig(t *testing.T) *config.Worker {
	t.Helper()
	return &config.Worker{
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		WorkDir:        t.TempDir(),
	}
}

func TestAgentProcessesAllBatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"f1", "f2", "f3", "f4", "f5"}, 2)

	cfg := testWorkerConfig(t)
	c := client.New(f.server.URL, "", cfg.RequestTimeout)
	agent := New(cfg, c, copyRunner(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Run returns nil once the orchestrator directs shutdown.
	if err := agent.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := f.engine.Stats()
	if stats.Completed != 3 || stats.Pending != 0 || stats.InFlight != 0 {
		t.Errorf("stats = %+v, want 3 completed", stats)
	}
	if !stats.Quiescent {
		t.Error("engine not quiescent after agent exit")
	}

	// Every input file was copied through to the output bucket.
	outFiles, err := f.output.ListFiles(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(outFiles) != 5 {
		t.Errorf("output files = %v, want 5", outFiles)
	}
}

func TestAgentReportsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"f1"}, 1)

	failing, err := runtime.NewExecRunner([]string{"sh", "-c", "exit 1"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testWorkerConfig(t)
	c := client.New(f.server.URL, "", cfg.RequestTimeout)
	agent := New(cfg, c, failing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	// The batch fails and is requeued; the agent keeps picking it up again,
	// so the job never finishes and the failed count climbs.
	testutil.MustWaitFor(t, func() bool {
		return f.engine.Stats().Completed == 0 && statsFailedAtLeast(f.engine, 2)
	}, testutil.WithTimeout(15*time.Second), testutil.WithInterval(20*time.Millisecond))

	cancel()
	<-done
}

// statsFailedAtLeast checks the worker history for repeated failure reports.
func statsFailedAtLeast(e *dispatch.Engine, n int) bool {
	for _, v := range e.Snapshot() {
		failures := 0
		for _, h := range v.History {
			if h.Status == dispatch.StatusFailed {
				failures++
			}
		}
		if failures >= n {
			return true
		}
	}
	return false
}

func TestAgentShutdownReportsLeaving(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, 1)

	// With an empty job the first poll gets the shutdown directive and the
	// leaving report confirms termination.
	cfg := testWorkerConfig(t)
	c := client.New(f.server.URL, "", cfg.RequestTimeout)
	agent := New(cfg, c, copyRunner(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agent.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	stats := f.engine.Stats()
	if stats.Workers[dispatch.StateTerminated] != 1 {
		t.Errorf("workers = %+v, want 1 terminated", stats.Workers)
	}
	if !stats.Quiescent {
		t.Error("engine not quiescent")
	}
}

func TestAgentCancelReturnsBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"f1"}, 1)

	// A runner that blocks until its context is canceled.
	blocking, err := runtime.NewExecRunner([]string{"sleep", "60"})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testWorkerConfig(t)
	c := client.New(f.server.URL, "", cfg.RequestTimeout)
	agent := New(cfg, c, blocking)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	testutil.MustWaitFor(t, func() bool {
		return f.engine.Stats().InFlight == 1
	}, testutil.WithTimeout(10*time.Second), testutil.WithInterval(10*time.Millisecond))

	cancel()
	<-done

	// The shutdown report returned the batch to pending.
	testutil.MustWaitFor(t, func() bool {
		s := f.engine.Stats()
		return s.Pending == 1 && s.InFlight == 0
	}, testutil.WithTimeout(10*time.Second), testutil.WithInterval(10*time.Millisecond))
}
