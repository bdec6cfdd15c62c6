package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(registry)

	if c == nil {
		t.Fatal("expected non-nil collector")
	}
	if c.registry != registry {
		t.Error("collector registry not set correctly")
	}

	// A nil registry gets a fresh one.
	c = NewCollector(nil)
	if c.registry == nil {
		t.Error("expected a registry to be created")
	}
}

func TestCollector_RecordTaskRun(t *testing.T) {
	c := NewCollector(nil)

	c.RecordTaskRun("daily-project-kb", "daily_retention", StatusSuccess)
	c.RecordTaskRun("daily-project-kb", "daily_retention", StatusSuccess)
	c.RecordTaskRun("daily-project-kb", "daily_retention", StatusFailure)

	success := testutil.ToFloat64(c.taskRuns.WithLabelValues("daily-project-kb", "daily_retention", StatusSuccess))
	if success != 2 {
		t.Errorf("expected 2 successes, got %f", success)
	}
	failure := testutil.ToFloat64(c.taskRuns.WithLabelValues("daily-project-kb", "daily_retention", StatusFailure))
	if failure != 1 {
		t.Errorf("expected 1 failure, got %f", failure)
	}
}

func TestCollector_RecordMigration(t *testing.T) {
	c := NewCollector(nil)

	c.RecordMigration("project-kb", "hot", "warm", 7)
	c.RecordMigration("project-kb", "hot", "warm", 0)
	c.RecordMigration("project-kb", "warm", "cold", -3)

	moved := testutil.ToFloat64(c.recordsMigrated.WithLabelValues("project-kb", "hot", "warm"))
	if moved != 7 {
		t.Errorf("expected 7 migrated, got %f", moved)
	}
	cold := testutil.ToFloat64(c.recordsMigrated.WithLabelValues("project-kb", "warm", "cold"))
	if cold != 0 {
		t.Errorf("expected negative count ignored, got %f", cold)
	}
}

func TestCollector_RecordIntegrity(t *testing.T) {
	c := NewCollector(nil)

	c.RecordIntegrity(10, 2, 1)
	c.RecordIntegrity(5, 0, 0)

	if got := testutil.ToFloat64(c.integrityVerified); got != 15 {
		t.Errorf("expected 15 verified, got %f", got)
	}
	if got := testutil.ToFloat64(c.integrityFailed); got != 2 {
		t.Errorf("expected 2 failed, got %f", got)
	}
	if got := testutil.ToFloat64(c.integrityRecovered); got != 1 {
		t.Errorf("expected 1 recovered, got %f", got)
	}
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(nil)

	c.SetPendingApprovals("project-kb", 4)
	c.SetPendingApprovals("project-kb", 2)
	if got := testutil.ToFloat64(c.pendingApprovals.WithLabelValues("project-kb")); got != 2 {
		t.Errorf("expected gauge 2, got %f", got)
	}

	c.SetTierStats("project-kb", "cold", 12, 4096)
	if got := testutil.ToFloat64(c.archiveRecords.WithLabelValues("project-kb", "cold")); got != 12 {
		t.Errorf("expected 12 records, got %f", got)
	}
	if got := testutil.ToFloat64(c.archiveBytes.WithLabelValues("project-kb", "cold")); got != 4096 {
		t.Errorf("expected 4096 bytes, got %f", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these may panic on a nil collector.
	c.RecordTaskRun("t", "k", StatusSuccess)
	c.RecordMigration("kb", "hot", "warm", 1)
	c.RecordPurge("kb", 1)
	c.RecordIntegrity(1, 0, 0)
	c.SetPendingApprovals("kb", 1)
	c.RecordRedundancyRepairs("kb", 1)
	c.SetTierStats("kb", "hot", 1, 1)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordPurge("project-kb", 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "permafrost_records_purged_total") {
		t.Errorf("expected purge counter in scrape output, got:\n%s", body)
	}
}
