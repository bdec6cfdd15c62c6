package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckLiveness(t *testing.T) {
	c := New(0)

	status := c.CheckLiveness(context.Background())
	if status.Status != StatusOK {
		t.Errorf("expected %q, got %q", StatusOK, status.Status)
	}
	if status.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestCheckReadiness_NoChecks(t *testing.T) {
	c := New(0)

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("expected %q with no checks, got %q", StatusReady, status.Status)
	}
}

func TestCheckReadiness_AllHealthy(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("index", func(ctx context.Context) error { return nil })
	c.RegisterCheck("audit", func(ctx context.Context) error { return nil })

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Fatalf("expected %q, got %q", StatusReady, status.Status)
	}
	if len(status.Checks) != 2 {
		t.Fatalf("expected 2 check results, got %d", len(status.Checks))
	}
	for name, result := range status.Checks {
		if result.Status != StatusOK {
			t.Errorf("check %s: expected %q, got %q", name, StatusOK, result.Status)
		}
	}
}

func TestCheckReadiness_Degraded(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("index", func(ctx context.Context) error { return nil })
	c.RegisterCheck("audit", func(ctx context.Context) error {
		return errors.New("audit store unreachable")
	})

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Fatalf("expected %q, got %q", StatusDegraded, status.Status)
	}
	result := status.Checks["audit"]
	if result.Status != StatusUnhealthy {
		t.Errorf("expected %q, got %q", StatusUnhealthy, result.Status)
	}
	if result.Message != "audit store unreachable" {
		t.Errorf("unexpected message %q", result.Message)
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Fatalf("expected %q, got %q", StatusDegraded, status.Status)
	}
}

func TestRegisterCheck_Replaces(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("index", func(ctx context.Context) error { return errors.New("old") })
	c.RegisterCheck("index", func(ctx context.Context) error { return nil })

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("expected replaced check to pass, got %q", status.Status)
	}
	if len(c.CheckNames()) != 1 {
		t.Errorf("expected 1 registered check, got %d", len(c.CheckNames()))
	}
}

func TestLivenessHandler(t *testing.T) {
	c := New(0)
	handler := c.LivenessHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Status != StatusOK {
		t.Errorf("expected %q, got %q", StatusOK, status.Status)
	}

	// Non-GET is rejected.
	req = httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestReadinessHandler_Degraded(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("index", func(ctx context.Context) error {
		return errors.New("index store unreachable")
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Status != StatusDegraded {
		t.Errorf("expected %q, got %q", StatusDegraded, status.Status)
	}
}

func TestVersionHandler(t *testing.T) {
	handler := VersionHandler("1.2.3", "abc123", "2026-01-02T00:00:00Z")

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("unexpected version info %+v", info)
	}
	if info.GoVersion == "" {
		t.Error("expected go version to be populated")
	}
}
