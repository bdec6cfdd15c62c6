// Package engine coordinates retention across knowledge bases.
//
// The engine owns the adapter registry (the only way into concrete KB
// storage), the eternal marker table, and the execution path that ties
// policies, the veto gate, the archival manager, and the audit log
// together. It implements scheduler.Executor, so scheduled task
// firings and operator-forced runs share one code path.
package engine
