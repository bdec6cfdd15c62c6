package engine

import (
	"sort"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
)

// KBHealth is one KB's row in the retention health report.
type KBHealth struct {
	// KBName is the knowledge base.
	KBName string `json:"kb_name"`

	// TotalRecords is the number of records in tiered tracking.
	TotalRecords int `json:"total_records"`

	// PerTierCounts breaks TotalRecords down by tier.
	PerTierCounts map[retention.Tier]int `json:"per_tier_counts"`

	// LastRun is the most recent completed retention task covering the
	// KB, nil before the first run.
	LastRun *time.Time `json:"last_run,omitempty"`

	// NextRun is the soonest scheduled task covering the KB.
	NextRun *time.Time `json:"next_run,omitempty"`

	// PendingActions is the number of deletion requests parked in the
	// veto gate for the KB.
	PendingActions int `json:"pending_actions"`

	// HealthScore grades the KB 0-100. Integrity failures weigh
	// heaviest, then under-replication, then parked deletions and
	// run staleness.
	HealthScore int `json:"health_score"`
}

// RetentionHealth reports per-KB retention health for every governed
// KB, sorted by name. Read-only; computed on demand.
func (e *Engine) RetentionHealth() []KBHealth {
	now := e.nowFn().UTC()

	pendingByKB := make(map[string]int)
	for _, request := range e.gate.ListPending() {
		pendingByKB[request.KBName]++
	}

	var out []KBHealth
	for _, kbName := range e.policies.KBNames() {
		stats := e.manager.Stats(kbName)

		total := 0
		perTier := make(map[retention.Tier]int, len(stats))
		for tier, tierStats := range stats {
			perTier[tier] = tierStats.Records
			total += tierStats.Records
		}

		integrityFailed, underReplicated := e.manager.HealthCounts(kbName)
		pending := pendingByKB[kbName]
		lastRun := e.sched.LastRunFor(kbName)

		out = append(out, KBHealth{
			KBName:         kbName,
			TotalRecords:   total,
			PerTierCounts:  perTier,
			LastRun:        lastRun,
			NextRun:        e.sched.NextRunFor(kbName),
			PendingActions: pending,
			HealthScore:    healthScore(integrityFailed, underReplicated, pending, lastRun, now),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].KBName < out[j].KBName })
	return out
}

// healthScore grades one KB. 100 is a KB with verified archives, full
// redundancy, no parked deletions, and a recent run.
func healthScore(integrityFailed, underReplicated, pending int, lastRun *time.Time, now time.Time) int {
	score := 100
	score -= 25 * integrityFailed
	score -= 10 * underReplicated
	score -= 5 * pending
	if lastRun != nil && now.Sub(*lastRun) > 48*time.Hour {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	return score
}
