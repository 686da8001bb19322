// Package observability provides Prometheus metrics for the volume daemon.
package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("registry is nil")
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	// Test that handler serves metrics
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "volumed_") {
		t.Error("metrics response should contain volumed_ namespace")
	}
}

// scrapeMetrics is a test helper that scrapes the /metrics endpoint and returns the body.
func scrapeMetrics(t *testing.T, m *Metrics) string {
	t.Helper()
	handler := m.Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint returned status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRecordVolumeOp(t *testing.T) {
	m := NewMetrics()

	// Test success
	m.RecordVolumeOp("mount", nil, 100*time.Millisecond)

	// Test failure
	m.RecordVolumeOp("mount", errors.New("test error"), 50*time.Millisecond)

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, "volumed_volume_operations_total") {
		t.Error("expected volume_operations_total metric")
	}
	if !strings.Contains(body, "volumed_volume_operation_duration_seconds") {
		t.Error("expected volume_operation_duration_seconds metric")
	}
}

func TestRecordVolumeOp_AllOperations(t *testing.T) {
	operations := []string{"create", "destroy", "mount", "unmount", "format"}

	for _, op := range operations {
		t.Run(op, func(t *testing.T) {
			m := NewMetrics()

			// Record success and failure for each operation
			m.RecordVolumeOp(op, nil, 100*time.Millisecond)
			m.RecordVolumeOp(op, errors.New("test error"), 50*time.Millisecond)

			body := scrapeMetrics(t, m)

			// Check for operation label
			if !strings.Contains(body, `operation="`+op+`"`) {
				t.Errorf("expected operation label %q in metrics", op)
			}

			// Check both status labels
			if !strings.Contains(body, `status="success"`) {
				t.Error("expected status=success label in metrics")
			}
			if !strings.Contains(body, `status="failure"`) {
				t.Error("expected status=failure label in metrics")
			}
		})
	}
}

func TestRecordBridgeSpawn(t *testing.T) {
	m := NewMetrics()

	// Test success
	m.RecordBridgeSpawn(nil, 500*time.Millisecond)

	// Test failure
	m.RecordBridgeSpawn(errors.New("translator never mounted"), 0)

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, `volumed_bridge_spawns_total{status="success"} 1`) {
		t.Error("expected bridge_spawns_total with status=success to be 1")
	}
	if !strings.Contains(body, `volumed_bridge_spawns_total{status="failure"} 1`) {
		t.Error("expected bridge_spawns_total with status=failure to be 1")
	}
	if !strings.Contains(body, "volumed_bridge_ready_duration_seconds_bucket") {
		t.Error("expected bridge_ready_duration_seconds histogram bucket")
	}
	// Only the successful spawn increments the gauge
	if !strings.Contains(body, "volumed_bridges_active 1") {
		t.Errorf("expected bridges_active to be 1, got:\n%s", body)
	}
}

func TestRecordBridgeExit(t *testing.T) {
	m := NewMetrics()

	m.RecordBridgeSpawn(nil, 100*time.Millisecond)
	m.RecordBridgeExit()

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, "volumed_bridges_active 0") {
		t.Errorf("expected bridges_active to be 0 after exit, got:\n%s", body)
	}
}

func TestRecordTeardownStepFailure(t *testing.T) {
	m := NewMetrics()

	m.RecordTeardownStepFailure("fuse_views")
	m.RecordTeardownStepFailure("fuse_views")
	m.RecordTeardownStepFailure("rmdir")

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, `volumed_teardown_step_failures_total{step="fuse_views"} 2`) {
		t.Errorf("expected fuse_views failures to be 2, got:\n%s", body)
	}
	if !strings.Contains(body, `volumed_teardown_step_failures_total{step="rmdir"} 1`) {
		t.Error("expected rmdir failures to be 1")
	}
}

func TestRecordHookClaim(t *testing.T) {
	m := NewMetrics()

	m.RecordHookClaim("update")
	m.RecordHookClaim("startup")

	body := scrapeMetrics(t, m)
	if !strings.Contains(body, `volumed_hook_claims_total{hook="update"} 1`) {
		t.Error("expected hook_claims_total for update to be 1")
	}
	if !strings.Contains(body, `volumed_hook_claims_total{hook="startup"} 1`) {
		t.Error("expected hook_claims_total for startup to be 1")
	}
}

func TestMetricsNamespace(t *testing.T) {
	m := NewMetrics()

	// Record something to populate metrics
	m.RecordVolumeOp("mount", nil, 100*time.Millisecond)
	m.RecordBridgeSpawn(nil, 100*time.Millisecond)
	m.RecordTeardownStepFailure("raw")
	m.RecordHookClaim("update")

	body := scrapeMetrics(t, m)

	// All volumed metrics should use volumed_ namespace
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		// Skip standard Go runtime metrics (these are from the custom registry)
		if strings.HasPrefix(line, "go_") || strings.HasPrefix(line, "process_") {
			continue
		}
		if !strings.HasPrefix(line, "volumed_") {
			t.Errorf("metric line should start with volumed_: %s", line)
		}
	}
}

func TestMetricsIsolation(t *testing.T) {
	// Create two separate Metrics instances to verify isolation
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordTeardownStepFailure("raw")
	m1.RecordTeardownStepFailure("raw")
	m2.RecordHookClaim("cust")

	body1 := scrapeMetrics(t, m1)
	if !strings.Contains(body1, `volumed_teardown_step_failures_total{step="raw"} 2`) {
		t.Error("m1 should have teardown_step_failures_total 2")
	}

	body2 := scrapeMetrics(t, m2)
	if !strings.Contains(body2, `volumed_hook_claims_total{hook="cust"} 1`) {
		t.Error("m2 should have hook_claims_total 1")
	}
	if strings.Contains(body2, `volumed_teardown_step_failures_total{step="raw"} 2`) {
		t.Error("m2 should not have m1's teardown failures")
	}
}

func TestCustomRegistryDoesNotPanic(t *testing.T) {
	// Verify that creating multiple Metrics instances doesn't cause
	// duplicate registration panics (since we use custom registry)
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Creating multiple Metrics instances caused panic: %v", r)
		}
	}()

	for i := 0; i < 10; i++ {
		m := NewMetrics()
		m.RecordVolumeOp("mount", nil, 100*time.Millisecond)
	}
}

func TestHistogramBuckets(t *testing.T) {
	m := NewMetrics()

	durations := []time.Duration{
		50 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		1 * time.Second,
		3 * time.Second,
		10 * time.Second,
	}

	for _, d := range durations {
		m.RecordVolumeOp("mount", nil, d)
	}

	body := scrapeMetrics(t, m)

	if !strings.Contains(body, "volumed_volume_operation_duration_seconds_bucket") {
		t.Error("expected histogram bucket data")
	}
	if !strings.Contains(body, "volumed_volume_operation_duration_seconds_sum") {
		t.Error("expected histogram sum")
	}
	if !strings.Contains(body, "volumed_volume_operation_duration_seconds_count") {
		t.Error("expected histogram count")
	}
}
