package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task run statuses recorded by RecordTaskRun.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Collector owns all Prometheus metrics for the retention engine. A
// nil *Collector is safe to use; every method is a no-op on nil so
// callers never have to guard metric recording.
type Collector struct {
	registry *prometheus.Registry

	taskRuns           *prometheus.CounterVec
	recordsMigrated    *prometheus.CounterVec
	recordsPurged      *prometheus.CounterVec
	integrityVerified  prometheus.Counter
	integrityFailed    prometheus.Counter
	integrityRecovered prometheus.Counter
	pendingApprovals   *prometheus.GaugeVec
	redundancyRepairs  *prometheus.CounterVec
	archiveRecords     *prometheus.GaugeVec
	archiveBytes       *prometheus.GaugeVec
}

// NewCollector creates a collector and registers all metrics with the
// given registry. If registry is nil a fresh one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by task, kind, and status",
		}, []string{"task", "kind", "status"}),
		recordsMigrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "records_migrated_total",
			Help:      "Records migrated between storage tiers",
		}, []string{"kb", "from", "to"}),
		recordsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "records_purged_total",
			Help:      "Records deleted by retention execution",
		}, []string{"kb"}),
		integrityVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "integrity_verified_total",
			Help:      "Archived records whose checksum verified clean",
		}),
		integrityFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "integrity_failures_total",
			Help:      "Archived records that failed checksum verification",
		}),
		integrityRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "integrity_recoveries_total",
			Help:      "Corrupted records restored from a redundant copy",
		}),
		pendingApprovals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "permafrost",
			Name:      "pending_approvals",
			Help:      "Deletion requests parked in the veto gate",
		}, []string{"kb"}),
		redundancyRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "permafrost",
			Name:      "redundancy_repairs_total",
			Help:      "Replica copies created to restore the redundancy factor",
		}, []string{"kb"}),
		archiveRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "permafrost",
			Name:      "archive_records",
			Help:      "Tracked records per KB and tier",
		}, []string{"kb", "tier"}),
		archiveBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "permafrost",
			Name:      "archive_bytes",
			Help:      "Stored payload bytes per KB and tier",
		}, []string{"kb", "tier"}),
	}

	registry.MustRegister(
		c.taskRuns,
		c.recordsMigrated,
		c.recordsPurged,
		c.integrityVerified,
		c.integrityFailed,
		c.integrityRecovered,
		c.pendingApprovals,
		c.redundancyRepairs,
		c.archiveRecords,
		c.archiveBytes,
	)
	return c
}

// Handler returns the Prometheus scrape endpoint for this collector's
// registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordTaskRun counts one scheduled task firing.
func (c *Collector) RecordTaskRun(taskID, kind, status string) {
	if c == nil {
		return
	}
	c.taskRuns.WithLabelValues(taskID, kind, status).Inc()
}

// RecordMigration counts records moved between tiers.
func (c *Collector) RecordMigration(kb, from, to string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.recordsMigrated.WithLabelValues(kb, from, to).Add(float64(count))
}

// RecordPurge counts records deleted by retention execution.
func (c *Collector) RecordPurge(kb string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.recordsPurged.WithLabelValues(kb).Add(float64(count))
}

// RecordIntegrity counts the outcome of one verification pass.
func (c *Collector) RecordIntegrity(verified, failed, recovered int) {
	if c == nil {
		return
	}
	c.integrityVerified.Add(float64(verified))
	c.integrityFailed.Add(float64(failed))
	c.integrityRecovered.Add(float64(recovered))
}

// SetPendingApprovals records the current veto gate depth for a KB.
func (c *Collector) SetPendingApprovals(kb string, n int) {
	if c == nil {
		return
	}
	c.pendingApprovals.WithLabelValues(kb).Set(float64(n))
}

// RecordRedundancyRepairs counts replica copies created for a KB.
func (c *Collector) RecordRedundancyRepairs(kb string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.redundancyRepairs.WithLabelValues(kb).Add(float64(n))
}

// SetTierStats records the current archive volume for one KB tier.
func (c *Collector) SetTierStats(kb, tier string, records int, bytes int64) {
	if c == nil {
		return
	}
	c.archiveRecords.WithLabelValues(kb, tier).Set(float64(records))
	c.archiveBytes.WithLabelValues(kb, tier).Set(float64(bytes))
}
