// Package audit provides the append-only retention event log.
//
// Every retention action (archival, purge, tier transition, eternal
// marking, veto) is recorded as a retention.Event. Events are never
// mutated or deleted; the log only grows. Two sinks are provided: an
// in-memory log for tests and single-run tooling, and a SQLite log for
// durable deployments.
package audit
