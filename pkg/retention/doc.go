// Package retention defines the core domain model for the Permafrost
// retention and tiered-archival engine: retention policies, storage
// tiers, archival record placement, scheduled tasks, audit events, and
// the adapter contract through which the engine reaches concrete
// knowledge-base storage.
//
// The engine itself is assembled from the subpackages:
//
//   - policy:    immutable per-KB policy registry
//   - integrity: checksum computation and verification
//   - audit:     append-only retention event log
//   - archive:   tier backends, codecs, the archival record index, and
//     the archival manager that performs tier transitions
//   - veto:      human-approval gate for irreversible deletions
//   - scheduler: cron-driven lifecycle task execution
//   - notify:    escalation notification sink
//   - engine:    top-level wiring, adapter registry, and health surface
package retention
