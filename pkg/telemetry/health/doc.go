// Package health implements liveness and readiness probes for the
// retention service. Components register named check functions; the
// readiness probe runs them concurrently with a per-check timeout and
// reports degraded when any check fails. Liveness is a constant-time
// process check.
package health
