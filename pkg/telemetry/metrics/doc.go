// Package metrics exposes Prometheus metrics for retention activity:
// task runs, tier migrations, integrity verification, pending
// approvals, redundancy repairs, and per-tier archive volume.
package metrics
