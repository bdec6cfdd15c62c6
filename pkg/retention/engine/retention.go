package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/notify"
	"permafrost-hq/permafrost/pkg/retention/veto"
)

// ExecuteRetention applies kbName's retention policy once: evaluate
// candidates, route expired records through the veto gate, and delete
// whatever comes back approved. Per-record failures are collected in
// the result; the run itself fails only when it cannot execute at all.
func (e *Engine) ExecuteRetention(ctx context.Context, kbName string) (*retention.Result, error) {
	result := &retention.Result{KBName: kbName}

	pol, err := e.policies.PolicyFor(kbName)
	if err != nil {
		return result, err
	}
	adapter := e.adapter(kbName)
	if adapter == nil {
		return result, fmt.Errorf("kb %q: %w", kbName, retention.ErrAdapterNotFound)
	}

	// Requests that aged past the veto window under auto-approval are
	// executed before new candidates are evaluated.
	e.executeAutoApproved(ctx)

	result.Success = true

	if pol.NeverExpires() {
		e.logger.Debug("retention run is a no-op, kb never expires records", "kb", kbName)
		return result, nil
	}

	candidates, err := adapter.ListCandidateRecords(ctx)
	if err != nil {
		result.Success = false
		return result, fmt.Errorf("listing candidates for kb %q: %w", kbName, err)
	}

	var expired []string
	for _, candidate := range candidates {
		result.RecordsProcessed++
		if candidate.Protected {
			continue
		}
		if e.IsEternal(kbName, candidate.ID) {
			continue
		}
		if adapter.RecordAge(candidate) <= pol.RetentionDays {
			continue
		}
		expired = append(expired, candidate.ID)
	}

	if len(expired) == 0 {
		return result, nil
	}

	request, err := e.gate.RequestDeletion(kbName, expired, "task:daily-"+kbName)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	switch request.Status {
	case veto.StatusApproved:
		purged, errs := e.executeDeletion(ctx, request)
		result.RecordsPurged = purged
		result.Errors = append(result.Errors, errs...)
	case veto.StatusPending:
		result.PendingApproval = len(expired)
		e.logger.Info("deletion parked pending approval",
			"kb", kbName, "records", len(expired), "request", request.ID)
	}

	e.recordKBMetrics(kbName)
	return result, nil
}

// recordKBMetrics refreshes the pending approval and archive volume
// gauges for one KB.
func (e *Engine) recordKBMetrics(kbName string) {
	if e.metrics == nil {
		return
	}

	pending := 0
	for _, request := range e.gate.ListPending() {
		if request.KBName == kbName {
			pending++
		}
	}
	e.metrics.SetPendingApprovals(kbName, pending)

	for tier, stats := range e.manager.Stats(kbName) {
		e.metrics.SetTierStats(kbName, string(tier), stats.Records, stats.Bytes)
	}
}

// executeDeletion removes the records of one approved request from KB
// storage and from tiered tracking, then appends the purge event.
func (e *Engine) executeDeletion(ctx context.Context, request *veto.PendingApproval) (int, []string) {
	adapter := e.adapter(request.KBName)
	if adapter == nil {
		return 0, []string{fmt.Sprintf("kb %q: %v", request.KBName, retention.ErrAdapterNotFound)}
	}

	purged := 0
	var errs []string
	for _, id := range request.RecordIDs {
		deleted, err := adapter.DeleteRecord(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Sprintf("deleting %s/%s: %v", request.KBName, id, err))
			continue
		}
		if err := e.manager.Delete(ctx, request.KBName, id); err != nil &&
			!errors.Is(err, retention.ErrRecordNotTracked) {
			errs = append(errs, fmt.Sprintf("untracking %s/%s: %v", request.KBName, id, err))
		}
		if deleted {
			purged++
		}
	}

	e.appendEvent(ctx, &retention.Event{
		Action:          retention.ActionPurge,
		KBName:          request.KBName,
		AffectedRecords: purged,
		PerformedBy:     request.RequestedBy,
		Approved:        true,
		ApprovedBy:      request.DecidedBy,
		Metadata:        map[string]string{"request": request.ID},
	})

	e.metrics.RecordPurge(request.KBName, purged)
	e.logger.Info("deletion executed",
		"kb", request.KBName, "purged", purged, "errors", len(errs), "request", request.ID)
	return purged, errs
}

// executeAutoApproved runs the gate's expiry sweep and executes any
// requests it auto-approved. A no-op under the default configuration.
func (e *Engine) executeAutoApproved(ctx context.Context) {
	for _, request := range e.gate.SweepExpired() {
		e.executeDeletion(ctx, request)
	}
}

// ApproveDeletion records a human approval and executes the deletion.
func (e *Engine) ApproveDeletion(ctx context.Context, requestID, approver string) (*retention.Result, error) {
	request, err := e.gate.Approve(requestID, approver)
	if err != nil {
		return nil, err
	}

	purged, errs := e.executeDeletion(ctx, request)
	e.recordKBMetrics(request.KBName)
	return &retention.Result{
		KBName:        request.KBName,
		Success:       true,
		RecordsPurged: purged,
		Errors:        errs,
	}, nil
}

// DenyDeletion vetoes a pending request. Nothing is deleted; the veto
// itself is audited.
func (e *Engine) DenyDeletion(ctx context.Context, requestID, approver, reason string) error {
	request, err := e.gate.Deny(requestID, approver, reason)
	if err != nil {
		return err
	}

	e.appendEvent(ctx, &retention.Event{
		Action:          retention.ActionVeto,
		KBName:          request.KBName,
		AffectedRecords: len(request.RecordIDs),
		PerformedBy:     approver,
		Approved:        false,
		Metadata:        map[string]string{"request": request.ID, "reason": reason},
	})

	e.recordKBMetrics(request.KBName)
	e.logger.Info("deletion vetoed", "kb", request.KBName, "request", request.ID, "by", approver)
	return nil
}

// PendingApprovals lists deletion requests awaiting a decision.
func (e *Engine) PendingApprovals() []*veto.PendingApproval {
	return e.gate.ListPending()
}

// VerifyIntegrity checks every archived record's checksum. Individual
// failures are recovered and escalated inside the archival manager;
// only an inoperable verification pass is an error.
func (e *Engine) VerifyIntegrity(ctx context.Context) error {
	report, err := e.manager.VerifyArchivalIntegrity(ctx)
	if err != nil {
		return err
	}
	e.metrics.RecordIntegrity(report.Verified, report.Failed, report.Recovered)
	e.logger.Info("integrity verification finished",
		"verified", report.Verified,
		"failed", report.Failed,
		"recovered", report.Recovered,
	)
	return nil
}

// MigrateTiers runs the monthly archival maintenance for every KB with
// tiered storage: age-based tier transitions, long-term cold archival,
// redundancy repair, and storage optimization. An in-progress guard
// hit on one KB skips it without failing the others.
func (e *Engine) MigrateTiers(ctx context.Context) error {
	var errs []error

	for _, pol := range e.policies.All() {
		if !pol.TieredStorage {
			continue
		}
		kbName := pol.KBName

		transitions := []struct {
			from, to  retention.Tier
			afterDays int
		}{
			{retention.TierHot, retention.TierWarm, e.config.WarmAfterDays},
			{retention.TierWarm, retention.TierCold, e.config.ColdAfterDays},
		}
		for _, tr := range transitions {
			migrated, err := e.manager.TransitionTier(ctx, kbName, tr.from, tr.to, tr.afterDays)
			if errors.Is(err, retention.ErrMigrationInProgress) {
				e.logger.Warn("tier migration skipped, already in progress",
					"kb", kbName, "from", tr.from, "to", tr.to)
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("kb %q %s->%s: %w", kbName, tr.from, tr.to, err))
				continue
			}
			if migrated > 0 {
				e.metrics.RecordMigration(kbName, string(tr.from), string(tr.to), migrated)
				e.logger.Info("tier migration finished",
					"kb", kbName, "from", tr.from, "to", tr.to, "migrated", migrated)
			}
		}

		if pol.AutoArchive {
			if _, err := e.manager.ArchiveColdData(ctx, kbName); err != nil {
				errs = append(errs, fmt.Errorf("kb %q cold archival: %w", kbName, err))
			}
		}
		repaired, err := e.manager.EnsureRedundancy(ctx, kbName)
		if err != nil {
			errs = append(errs, fmt.Errorf("kb %q redundancy: %w", kbName, err))
		} else {
			e.metrics.RecordRedundancyRepairs(kbName, repaired)
		}
		if _, err := e.manager.OptimizeStorage(ctx, kbName); err != nil {
			errs = append(errs, fmt.Errorf("kb %q optimization: %w", kbName, err))
		}
		e.recordKBMetrics(kbName)
	}

	return errors.Join(errs...)
}

// ReviewPolicies sends the annual reminder to re-validate the
// configured retention policies.
func (e *Engine) ReviewPolicies(ctx context.Context) error {
	policies := e.policies.All()

	var lines []string
	for _, pol := range policies {
		switch {
		case pol.Immutable:
			lines = append(lines, fmt.Sprintf("- %s: immutable, records kept forever", pol.KBName))
		case pol.RetentionDays == 0:
			lines = append(lines, fmt.Sprintf("- %s: never expires by age", pol.KBName))
		default:
			lines = append(lines, fmt.Sprintf("- %s: %d day retention", pol.KBName, pol.RetentionDays))
		}
	}

	return e.notifier.Send(ctx, notify.Notification{
		To:      e.config.ReviewTo,
		Subject: fmt.Sprintf("annual retention policy review due (%d policies)", len(policies)),
		Body: "The configured retention policies are due for their annual review:\n" +
			strings.Join(lines, "\n"),
	})
}
