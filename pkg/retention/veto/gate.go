package veto

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/policy"
)

// Status is the lifecycle state of a deletion request.
type Status string

const (
	// StatusPending means the request awaits a human decision.
	StatusPending Status = "pending"
	// StatusApproved means deletion may proceed.
	StatusApproved Status = "approved"
	// StatusDenied means the deletion was vetoed.
	StatusDenied Status = "denied"
)

// Config tunes the veto gate.
type Config struct {
	// Enabled turns the gate on. A disabled gate approves every
	// non-immutable request immediately.
	Enabled bool

	// VetoWindowHours is the length of the approval window.
	// Default: 48
	VetoWindowHours int

	// AutoApproveAfterWindow, when true, approves requests still
	// pending after the window expires. Default false: requests stay
	// pending indefinitely without an explicit decision.
	AutoApproveAfterWindow bool
}

// DefaultConfig returns the default veto configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		VetoWindowHours:        48,
		AutoApproveAfterWindow: false,
	}
}

// PendingApproval is one deletion request tracked by the gate.
type PendingApproval struct {
	// ID identifies the request for approve/deny calls.
	ID string `json:"id"`

	// KBName is the knowledge base the deletion targets.
	KBName string `json:"kb_name"`

	// RecordIDs are the records to delete.
	RecordIDs []string `json:"record_ids"`

	// RequestedBy names the requesting actor (task or operator).
	RequestedBy string `json:"requested_by"`

	// RequestedAt is when the request entered the gate.
	RequestedAt time.Time `json:"requested_at"`

	// ExpiresAt is the end of the veto window.
	ExpiresAt time.Time `json:"expires_at"`

	// Status is the request's current lifecycle state.
	Status Status `json:"status"`

	// DecidedBy names the approver/denier, or "auto-approval".
	DecidedBy string `json:"decided_by,omitempty"`

	// DecidedAt is when the decision was recorded.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// Reason carries the denial reason, if any.
	Reason string `json:"reason,omitempty"`
}

// Gate holds deletion requests through their veto window. It is safe
// for concurrent use.
type Gate struct {
	policies *policy.Registry
	config   Config
	logger   *slog.Logger
	nowFn    func() time.Time

	mu       sync.Mutex
	requests map[string]*PendingApproval
}

// NewGate creates a veto gate over the policy registry.
func NewGate(policies *policy.Registry, config Config) *Gate {
	if config.VetoWindowHours <= 0 {
		config.VetoWindowHours = 48
	}
	return &Gate{
		policies: policies,
		config:   config,
		logger:   slog.Default().With("component", "retention.veto"),
		nowFn:    time.Now,
		requests: make(map[string]*PendingApproval),
	}
}

// SetNowFunc replaces the wall clock used for window arithmetic.
func (g *Gate) SetNowFunc(fn func() time.Time) {
	g.nowFn = fn
}

// RequestDeletion submits a deletion for approval. Immutable KBs are
// rejected outright with retention.ErrImmutableKB. Requests for KBs
// whose policy does not require approval (or with the gate disabled)
// return already approved, so callers have a single execution path.
func (g *Gate) RequestDeletion(kbName string, recordIDs []string, requestedBy string) (*PendingApproval, error) {
	pol, err := g.policies.PolicyFor(kbName)
	if err != nil {
		return nil, err
	}
	if pol.Immutable {
		return nil, retention.NewVetoError(kbName, retention.ErrImmutableKB)
	}
	if len(recordIDs) == 0 {
		return nil, retention.NewVetoError(kbName, fmt.Errorf("no records named in deletion request"))
	}

	now := g.nowFn().UTC()
	request := &PendingApproval{
		ID:          uuid.NewString(),
		KBName:      kbName,
		RecordIDs:   append([]string(nil), recordIDs...),
		RequestedBy: requestedBy,
		RequestedAt: now,
		ExpiresAt:   now.Add(time.Duration(g.config.VetoWindowHours) * time.Hour),
		Status:      StatusPending,
	}

	if !g.config.Enabled || !pol.DeletionRequiresApproval() {
		request.Status = StatusApproved
		request.DecidedBy = "policy"
		request.DecidedAt = &now
	}

	g.mu.Lock()
	g.requests[request.ID] = request
	g.mu.Unlock()

	g.logger.Info("deletion request recorded",
		"kb", kbName,
		"records", len(recordIDs),
		"requested_by", requestedBy,
		"status", request.Status,
		"window_hours", g.config.VetoWindowHours,
	)

	return copyRequest(request), nil
}

// Approve records a human approval for a pending request.
func (g *Gate) Approve(requestID, approver string) (*PendingApproval, error) {
	if approver == "" {
		return nil, fmt.Errorf("approval requires a named approver")
	}
	return g.decide(requestID, StatusApproved, approver, "")
}

// Deny vetoes a pending request.
func (g *Gate) Deny(requestID, approver, reason string) (*PendingApproval, error) {
	if approver == "" {
		return nil, fmt.Errorf("denial requires a named approver")
	}
	return g.decide(requestID, StatusDenied, approver, reason)
}

func (g *Gate) decide(requestID string, status Status, decidedBy, reason string) (*PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	request, ok := g.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %q: %w", requestID, retention.ErrApprovalNotFound)
	}
	if request.Status != StatusPending {
		return nil, fmt.Errorf("request %q is %s: %w", requestID, request.Status, retention.ErrApprovalResolved)
	}

	now := g.nowFn().UTC()
	request.Status = status
	request.DecidedBy = decidedBy
	request.DecidedAt = &now
	request.Reason = reason

	g.logger.Info("deletion request decided",
		"request", requestID, "kb", request.KBName,
		"status", status, "decided_by", decidedBy)

	return copyRequest(request), nil
}

// Get returns the request by ID.
func (g *Gate) Get(requestID string) (*PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	request, ok := g.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %q: %w", requestID, retention.ErrApprovalNotFound)
	}
	return copyRequest(request), nil
}

// ListPending returns all requests still awaiting a decision, oldest
// first.
func (g *Gate) ListPending() []*PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	var pending []*PendingApproval
	for _, request := range g.requests {
		if request.Status == StatusPending {
			pending = append(pending, copyRequest(request))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	return pending
}

// PendingCount returns the number of undecided requests.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for _, request := range g.requests {
		if request.Status == StatusPending {
			count++
		}
	}
	return count
}

// SweepExpired applies the post-window policy to pending requests. With
// auto-approval enabled it approves expired requests as "auto-approval"
// and returns them for execution. With auto-approval disabled (the
// default) it does nothing: requests remain pending indefinitely.
func (g *Gate) SweepExpired() []*PendingApproval {
	if !g.config.AutoApproveAfterWindow {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn().UTC()
	var approved []*PendingApproval

	for _, request := range g.requests {
		if request.Status != StatusPending || now.Before(request.ExpiresAt) {
			continue
		}
		request.Status = StatusApproved
		request.DecidedBy = "auto-approval"
		decidedAt := now
		request.DecidedAt = &decidedAt
		approved = append(approved, copyRequest(request))

		g.logger.Warn("deletion request auto-approved after veto window",
			"request", request.ID, "kb", request.KBName,
			"records", len(request.RecordIDs))
	}

	sort.Slice(approved, func(i, j int) bool {
		return approved[i].RequestedAt.Before(approved[j].RequestedAt)
	})
	return approved
}

func copyRequest(request *PendingApproval) *PendingApproval {
	requestCopy := *request
	requestCopy.RecordIDs = append([]string(nil), request.RecordIDs...)
	if request.DecidedAt != nil {
		decidedAt := *request.DecidedAt
		requestCopy.DecidedAt = &decidedAt
	}
	return &requestCopy
}
