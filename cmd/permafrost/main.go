// Permafrost is a long-horizon memory retention and tiered-archival
// engine for agent knowledge bases.
//
// It schedules per-KB retention sweeps, routes deletions through a
// veto gate, ages records down a Hot/Warm/Cold/Eternal tier ladder,
// and keeps archived payloads checksummed and redundantly stored.
//
// Usage:
//
//	# Start the retention service with default configuration
//	permafrost run
//
//	# Start with a custom configuration file
//	permafrost run --config /etc/permafrost/config.yaml
//
//	# Validate configuration without starting
//	permafrost run --dry-run
//
//	# Inspect the configured retention policies
//	permafrost policy list
//
//	# Operate a running service
//	permafrost tasks list
//	permafrost tasks run daily-project-kb
//	permafrost approvals list
//	permafrost approvals approve <request-id> --approver operator:ada
//	permafrost eternal mark project-kb rec-42 --by operator:ada
//
//	# Query the audit trail
//	permafrost events --kb project-kb --limit 50
package main

func main() {
	Execute()
}
