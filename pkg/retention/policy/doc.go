// Package policy provides the read-only retention policy registry.
//
// Policies are loaded once at startup from static configuration and
// never change for the lifetime of the process. A policy change
// requires a restart; this is deliberate, so that policy edits cannot
// race in-flight retention runs. Because the registry is immutable
// after construction it needs no locking.
package policy
