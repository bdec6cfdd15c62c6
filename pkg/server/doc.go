// Package server provides the HTTP operations surface of the retention
// service.
//
// The server exposes probes, metrics, and the operator API:
//
//	GET  /healthz                      liveness probe
//	GET  /readyz                       readiness probe (component checks)
//	GET  /version                      build information
//	GET  /metrics                      Prometheus scrape endpoint
//	GET  /api/v1/retention/health      per-KB retention health report
//	GET  /api/v1/approvals             deletion requests awaiting a decision
//	POST /api/v1/approvals/{id}/approve
//	POST /api/v1/approvals/{id}/deny
//	POST /api/v1/eternal               mark a record eternal
//	GET  /api/v1/eternal/{kb}          list eternal markers for one KB
//	GET  /api/v1/tasks                 scheduled task table
//	POST /api/v1/tasks/{id}/run        force-run one task
//
// All responses are JSON. The server shuts down gracefully, waiting up
// to the configured shutdown timeout for in-flight requests.
package server
