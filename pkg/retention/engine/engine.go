package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/archive"
	"permafrost-hq/permafrost/pkg/retention/audit"
	"permafrost-hq/permafrost/pkg/retention/notify"
	"permafrost-hq/permafrost/pkg/retention/policy"
	"permafrost-hq/permafrost/pkg/retention/scheduler"
	"permafrost-hq/permafrost/pkg/retention/veto"
	"permafrost-hq/permafrost/pkg/telemetry/metrics"
)

// Config holds the engine's tuning knobs.
type Config struct {
	// WarmAfterDays is the last-access age at which hot records move
	// to the warm tier during the migration sweep. Default: 365
	WarmAfterDays int `yaml:"warm_after_days"`

	// ColdAfterDays is the last-access age at which warm records move
	// to the cold tier. Default: 1095
	ColdAfterDays int `yaml:"cold_after_days"`

	// ReviewTo is the notification target for the annual policy review
	// reminder. Default: "retention-operators"
	ReviewTo string `yaml:"review_to"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		WarmAfterDays: 365,
		ColdAfterDays: 1095,
		ReviewTo:      "retention-operators",
	}
}

// ApplyDefaults fills unset fields with the stock settings.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.WarmAfterDays <= 0 {
		c.WarmAfterDays = defaults.WarmAfterDays
	}
	if c.ColdAfterDays <= 0 {
		c.ColdAfterDays = defaults.ColdAfterDays
	}
	if c.ReviewTo == "" {
		c.ReviewTo = defaults.ReviewTo
	}
}

// Engine is the retention coordinator. One engine serves all governed
// KBs for the lifetime of the process.
type Engine struct {
	policies *policy.Registry
	manager  *archive.Manager
	gate     *veto.Gate
	events   audit.Log
	notifier notify.Notifier
	sched    *scheduler.Scheduler
	config   Config
	logger   *slog.Logger
	nowFn    func() time.Time
	metrics  *metrics.Collector

	mu       sync.RWMutex
	adapters map[string]retention.KBAdapter
	eternal  map[string]*retention.EternalMarker
}

// New creates an engine over the given collaborators and builds its
// scheduler. Call Start to begin scheduled execution.
func New(policies *policy.Registry, manager *archive.Manager, gate *veto.Gate,
	events audit.Log, notifier notify.Notifier, config Config,
	schedConfig scheduler.Config) *Engine {

	config.ApplyDefaults()
	e := &Engine{
		policies: policies,
		manager:  manager,
		gate:     gate,
		events:   events,
		notifier: notifier,
		config:   config,
		logger:   slog.Default().With("component", "retention.engine"),
		nowFn:    time.Now,
		adapters: make(map[string]retention.KBAdapter),
		eternal:  make(map[string]*retention.EternalMarker),
	}
	e.sched = scheduler.NewScheduler(e, policies, schedConfig)
	return e
}

// SetMetrics installs the telemetry collector on the engine and its
// scheduler. Must be called before Start. A nil collector keeps every
// recording a no-op.
func (e *Engine) SetMetrics(collector *metrics.Collector) {
	e.metrics = collector
	e.sched.SetRecorder(collector)
}

// Scheduler exposes the engine's task scheduler for the operator
// surfaces (force run, task listing, health).
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// Start builds the task table and begins scheduled execution.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sched.Initialize(); err != nil {
		return err
	}
	return e.sched.Start(ctx)
}

// Stop halts scheduled execution and waits for in-flight runs.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// RegisterAdapter wires a KB's storage adapter into the engine. The KB
// must have a retention policy; registering twice for the same KB is
// rejected.
func (e *Engine) RegisterAdapter(adapter retention.KBAdapter) error {
	kbName := adapter.KBName()
	if _, err := e.policies.PolicyFor(kbName); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.adapters[kbName]; exists {
		return fmt.Errorf("adapter for kb %q already registered", kbName)
	}
	e.adapters[kbName] = adapter

	e.logger.Info("kb adapter registered", "kb", kbName)
	return nil
}

// adapter returns the registered adapter for kbName, or nil.
func (e *Engine) adapter(kbName string) retention.KBAdapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[kbName]
}

// MarkMemoryAsEternal permanently exempts one record from age-based
// deletion. Re-marking an already eternal record returns the existing
// marker unchanged. If the record is in tiered tracking it is also
// moved to the eternal tier.
func (e *Engine) MarkMemoryAsEternal(ctx context.Context, kbName, memoryID, markedBy, reason string) (*retention.EternalMarker, error) {
	if _, err := e.policies.PolicyFor(kbName); err != nil {
		return nil, err
	}
	if memoryID == "" {
		return nil, fmt.Errorf("eternal mark requires a record id")
	}
	if markedBy == "" {
		return nil, fmt.Errorf("eternal mark requires a named approver")
	}

	key := kbName + "/" + memoryID

	e.mu.Lock()
	if existing, ok := e.eternal[key]; ok {
		marker := *existing
		e.mu.Unlock()
		return &marker, nil
	}
	marker := &retention.EternalMarker{
		MemoryID: memoryID,
		KBName:   kbName,
		MarkedBy: markedBy,
		MarkedAt: e.nowFn().UTC(),
		Reason:   reason,
	}
	e.eternal[key] = marker
	e.mu.Unlock()

	// Records not yet in tiered tracking are still covered by the
	// marker; they just have no placement to move.
	if err := e.manager.MarkEternal(ctx, kbName, memoryID); err != nil {
		e.logger.Warn("eternal tier placement skipped",
			"kb", kbName, "record", memoryID, "error", err)
	}

	e.appendEvent(ctx, &retention.Event{
		Action:          retention.ActionMarkEternal,
		KBName:          kbName,
		AffectedRecords: 1,
		PerformedBy:     markedBy,
		Approved:        true,
		ApprovedBy:      markedBy,
		Metadata:        map[string]string{"record": memoryID, "reason": reason},
	})

	e.logger.Info("record marked eternal", "kb", kbName, "record", memoryID, "by", markedBy)
	out := *marker
	return &out, nil
}

// IsEternal reports whether the record carries an eternal marker.
func (e *Engine) IsEternal(kbName, memoryID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.eternal[kbName+"/"+memoryID]
	return ok
}

// EternalMarkers returns the markers for one KB, sorted by record ID.
func (e *Engine) EternalMarkers(kbName string) []retention.EternalMarker {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []retention.EternalMarker
	for _, marker := range e.eternal {
		if marker.KBName == kbName {
			out = append(out, *marker)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out
}

// appendEvent writes to the audit log, logging (not failing) on sink
// errors so retention work is never blocked by the audit trail.
func (e *Engine) appendEvent(ctx context.Context, event *retention.Event) {
	if err := e.events.Append(ctx, event); err != nil {
		e.logger.Error("audit append failed", "action", event.Action, "error", err)
	}
}
