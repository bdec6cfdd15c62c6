// Package telemetry groups the observability subpackages: structured
// logging setup, Prometheus metrics, and health checking.
package telemetry
