package health

import (
	"context"
	"errors"
	"testing"
)

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(map[string]ReadinessChecker{
		"storage": ReadyFunc(func(ctx context.Context) error { return nil }),
	})

	response := checker.Readiness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
	if check, ok := response.Checks["storage"]; !ok || check.Status != StatusHealthy {
		t.Errorf("Expected healthy storage check, got %+v", response.Checks)
	}
}

func TestChecker_Readiness_FailingDependency(t *testing.T) {
	t.Parallel()
	checker := NewChecker(map[string]ReadinessChecker{
		"storage": ReadyFunc(func(ctx context.Context) error { return nil }),
		"directory": ReadyFunc(func(ctx context.Context) error {
			return errors.New("bucket unreachable")
		}),
	})

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}
	if check := response.Checks["directory"]; check.Message != "bucket unreachable" {
		t.Errorf("Expected failure message, got %+v", check)
	}
	if check := response.Checks["storage"]; check.Status != StatusHealthy {
		t.Errorf("Expected storage still healthy, got %+v", check)
	}
}

func TestChecker_SetShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker(map[string]ReadinessChecker{
		"storage": ReadyFunc(func(ctx context.Context) error { return nil }),
	})

	if resp := checker.Readiness(context.Background()); !resp.IsHealthy() {
		t.Fatalf("Expected healthy before shutdown, got %s", resp.Status)
	}

	checker.SetShuttingDown()

	resp := checker.Readiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy after SetShuttingDown, got %s", resp.Status)
	}
	if _, ok := resp.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check to be present")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}
