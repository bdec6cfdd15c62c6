// Package archive implements tiered archival for memory records: the
// pluggable tier storage backend, the compression/encryption codec,
// the archival record index, and the manager that performs tier
// transitions, long-term cold archival, restores, integrity
// verification, redundancy maintenance, and storage optimization.
//
// The manager is the only writer of archival record state. Tier
// transitions for a given (kb, from, to) pair are guarded so that
// overlapping invocations from different trigger paths are no-ops
// rather than races.
package archive
