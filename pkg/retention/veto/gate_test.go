package veto

import (
	"errors"
	"testing"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/policy"
)

func testRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.NewRegistry([]retention.Policy{
		{KBName: "mind-kb", RetentionDays: 3650, RequiresApproval: true},
		{KBName: "scratch-kb", RetentionDays: 30},
		{KBName: "vault-kb", Immutable: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	return reg
}

// TestGate_PendingForever tests the headline safeguard: with
// auto-approval disabled, a request past its window is still pending
// and nothing is deleted.
func TestGate_PendingForever(t *testing.T) {
	gate := NewGate(testRegistry(t), DefaultConfig())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	gate.nowFn = func() time.Time { return now }

	request, err := gate.RequestDeletion("mind-kb", []string{"rec-1"}, "task:daily-mind-kb")
	if err != nil {
		t.Fatalf("RequestDeletion() failed: %v", err)
	}
	if request.Status != StatusPending {
		t.Fatalf("Expected pending status, got %s", request.Status)
	}
	if want := now.Add(48 * time.Hour); !request.ExpiresAt.Equal(want) {
		t.Errorf("Expected 48h window ending %v, got %v", want, request.ExpiresAt)
	}

	// 49 hours later, well past the window.
	now = now.Add(49 * time.Hour)

	if approved := gate.SweepExpired(); len(approved) != 0 {
		t.Errorf("Expected no auto-approvals with default config, got %d", len(approved))
	}

	got, err := gate.Get(request.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Expected request still pending after window, got %s", got.Status)
	}
}

// TestGate_ImmutableRejected tests the fixed immutable-KB rejection.
func TestGate_ImmutableRejected(t *testing.T) {
	gate := NewGate(testRegistry(t), DefaultConfig())

	_, err := gate.RequestDeletion("vault-kb", []string{"rec-1"}, "operator:ada")
	if !errors.Is(err, retention.ErrImmutableKB) {
		t.Errorf("Expected ErrImmutableKB, got %v", err)
	}
	if gate.PendingCount() != 0 {
		t.Error("Immutable rejection must not create a pending request")
	}
}

// TestGate_NoApprovalPolicy tests that KBs without requires_approval
// come back immediately approved.
func TestGate_NoApprovalPolicy(t *testing.T) {
	gate := NewGate(testRegistry(t), DefaultConfig())

	request, err := gate.RequestDeletion("scratch-kb", []string{"rec-1"}, "task:daily-scratch-kb")
	if err != nil {
		t.Fatalf("RequestDeletion() failed: %v", err)
	}
	if request.Status != StatusApproved || request.DecidedBy != "policy" {
		t.Errorf("Expected policy-approved request, got %+v", request)
	}
}

// TestGate_ApproveAndDeny tests explicit decisions.
func TestGate_ApproveAndDeny(t *testing.T) {
	gate := NewGate(testRegistry(t), DefaultConfig())

	first, err := gate.RequestDeletion("mind-kb", []string{"rec-1"}, "task:daily-mind-kb")
	if err != nil {
		t.Fatalf("RequestDeletion() failed: %v", err)
	}
	second, err := gate.RequestDeletion("mind-kb", []string{"rec-2"}, "task:daily-mind-kb")
	if err != nil {
		t.Fatalf("Second RequestDeletion() failed: %v", err)
	}

	approved, err := gate.Approve(first.ID, "operator:ada")
	if err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if approved.Status != StatusApproved || approved.DecidedBy != "operator:ada" {
		t.Errorf("Approval fields wrong: %+v", approved)
	}

	denied, err := gate.Deny(second.ID, "operator:lin", "record under investigation")
	if err != nil {
		t.Fatalf("Deny() failed: %v", err)
	}
	if denied.Status != StatusDenied || denied.Reason != "record under investigation" {
		t.Errorf("Denial fields wrong: %+v", denied)
	}

	// Decisions are final.
	if _, err := gate.Approve(first.ID, "operator:lin"); !errors.Is(err, retention.ErrApprovalResolved) {
		t.Errorf("Expected ErrApprovalResolved re-approving, got %v", err)
	}
	if _, err := gate.Deny(first.ID, "operator:lin", ""); !errors.Is(err, retention.ErrApprovalResolved) {
		t.Errorf("Expected ErrApprovalResolved denying approved, got %v", err)
	}

	// Anonymous decisions are rejected.
	if _, err := gate.Approve(first.ID, ""); err == nil {
		t.Error("Expected approval without approver rejected")
	}

	// Unknown request IDs surface the right sentinel.
	if _, err := gate.Approve("nope", "operator:ada"); !errors.Is(err, retention.ErrApprovalNotFound) {
		t.Errorf("Expected ErrApprovalNotFound, got %v", err)
	}
}

// TestGate_AutoApproveSweep tests the non-default auto-approval path.
func TestGate_AutoApproveSweep(t *testing.T) {
	config := DefaultConfig()
	config.AutoApproveAfterWindow = true
	config.VetoWindowHours = 1
	gate := NewGate(testRegistry(t), config)

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	gate.nowFn = func() time.Time { return now }

	request, err := gate.RequestDeletion("mind-kb", []string{"rec-1"}, "task:daily-mind-kb")
	if err != nil {
		t.Fatalf("RequestDeletion() failed: %v", err)
	}

	// Inside the window: nothing happens.
	now = now.Add(30 * time.Minute)
	if approved := gate.SweepExpired(); len(approved) != 0 {
		t.Errorf("Expected no approvals inside window, got %d", len(approved))
	}

	// Past the window: auto-approved.
	now = now.Add(31 * time.Minute)
	approved := gate.SweepExpired()
	if len(approved) != 1 {
		t.Fatalf("Expected 1 auto-approval, got %d", len(approved))
	}
	if approved[0].ID != request.ID || approved[0].DecidedBy != "auto-approval" {
		t.Errorf("Auto-approval fields wrong: %+v", approved[0])
	}

	// Sweep is one-shot per request.
	if again := gate.SweepExpired(); len(again) != 0 {
		t.Errorf("Expected sweep idempotent, got %d", len(again))
	}
}

// TestGate_DisabledApprovesImmediately tests the disabled gate.
func TestGate_DisabledApprovesImmediately(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	gate := NewGate(testRegistry(t), config)

	request, err := gate.RequestDeletion("mind-kb", []string{"rec-1"}, "operator:ada")
	if err != nil {
		t.Fatalf("RequestDeletion() failed: %v", err)
	}
	if request.Status != StatusApproved {
		t.Errorf("Expected immediate approval with gate disabled, got %s", request.Status)
	}

	// Disabled gate still rejects immutable KBs.
	if _, err := gate.RequestDeletion("vault-kb", []string{"rec-1"}, "operator:ada"); !errors.Is(err, retention.ErrImmutableKB) {
		t.Errorf("Expected ErrImmutableKB even when disabled, got %v", err)
	}
}

// TestGate_ListPending tests pending enumeration order.
func TestGate_ListPending(t *testing.T) {
	gate := NewGate(testRegistry(t), DefaultConfig())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	gate.nowFn = func() time.Time { return now }

	first, _ := gate.RequestDeletion("mind-kb", []string{"rec-1"}, "t")
	now = now.Add(time.Minute)
	second, _ := gate.RequestDeletion("mind-kb", []string{"rec-2"}, "t")

	pending := gate.ListPending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Error("Expected oldest-first ordering")
	}
}
