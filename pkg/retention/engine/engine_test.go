package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/archive"
	"permafrost-hq/permafrost/pkg/retention/audit"
	"permafrost-hq/permafrost/pkg/retention/notify"
	"permafrost-hq/permafrost/pkg/retention/policy"
	"permafrost-hq/permafrost/pkg/retention/scheduler"
	"permafrost-hq/permafrost/pkg/retention/veto"
)

// fakeAdapter is an in-memory KB for engine tests.
type fakeAdapter struct {
	name string
	now  time.Time

	mu         sync.Mutex
	candidates map[string]retention.CandidateRecord
	deleted    []string
	listErr    error
	deleteErr  error
}

func newFakeAdapter(name string, now time.Time) *fakeAdapter {
	return &fakeAdapter{
		name:       name,
		now:        now,
		candidates: make(map[string]retention.CandidateRecord),
	}
}

func (a *fakeAdapter) add(id string, ageDays int, protected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	created := a.now.AddDate(0, 0, -ageDays)
	a.candidates[id] = retention.CandidateRecord{
		ID:           id,
		CreatedAt:    created,
		LastAccessed: created,
		Protected:    protected,
	}
}

func (a *fakeAdapter) has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.candidates[id]
	return ok
}

func (a *fakeAdapter) KBName() string { return a.name }

func (a *fakeAdapter) ListCandidateRecords(context.Context) ([]retention.CandidateRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	out := make([]retention.CandidateRecord, 0, len(a.candidates))
	for _, c := range a.candidates {
		out = append(out, c)
	}
	return out, nil
}

func (a *fakeAdapter) DeleteRecord(_ context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return false, a.deleteErr
	}
	if _, ok := a.candidates[id]; !ok {
		return false, nil
	}
	delete(a.candidates, id)
	a.deleted = append(a.deleted, id)
	return true, nil
}

func (a *fakeAdapter) RecordAge(record retention.CandidateRecord) int {
	return retention.RecordAgeDays(record.CreatedAt, a.now)
}

type engineEnv struct {
	engine   *Engine
	gate     *veto.Gate
	manager  *archive.Manager
	backend  *archive.MemoryBackend
	events   *audit.MemoryLog
	notifier *notify.MemoryNotifier
	adapters map[string]*fakeAdapter
	now      time.Time
}

func newEngineEnv(t *testing.T, gateConfig veto.Config) *engineEnv {
	t.Helper()

	reg, err := policy.NewRegistry([]retention.Policy{
		{KBName: "project-kb", RetentionDays: 90, RequiresApproval: true, TieredStorage: true, AutoArchive: true},
		{KBName: "scratch-kb", RetentionDays: 30},
		{KBName: "vault-kb", Immutable: true},
		{KBName: "keep-kb", RetentionDays: 0},
	})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	backend := archive.NewMemoryBackend()
	events := audit.NewMemoryLog()
	notifier := notify.NewMemoryNotifier()
	manager := archive.NewManager(archive.NewIndex(), backend, archive.NewStandardCodec(nil),
		reg, events, notifier, archive.ManagerConfig{EscalateTo: "retention-oncall"})
	gate := veto.NewGate(reg, gateConfig)

	eng := New(reg, manager, gate, events, notifier, DefaultConfig(), scheduler.DefaultConfig())

	now := time.Now().UTC()
	env := &engineEnv{
		engine:   eng,
		gate:     gate,
		manager:  manager,
		backend:  backend,
		events:   events,
		notifier: notifier,
		adapters: make(map[string]*fakeAdapter),
		now:      now,
	}
	for _, kb := range []string{"project-kb", "scratch-kb", "vault-kb", "keep-kb"} {
		adapter := newFakeAdapter(kb, now)
		if err := eng.RegisterAdapter(adapter); err != nil {
			t.Fatalf("RegisterAdapter(%s) failed: %v", kb, err)
		}
		env.adapters[kb] = adapter
	}
	return env
}

func (env *engineEnv) eventCount(t *testing.T, kbName string, action retention.Action) int {
	t.Helper()
	count, err := env.events.Count(context.Background(), &audit.Query{KBName: kbName, Action: action})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return int(count)
}

func TestEngine_RegisterAdapter(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())

	if err := env.engine.RegisterAdapter(newFakeAdapter("unknown-kb", env.now)); !errors.Is(err, retention.ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound for unpoliced KB, got %v", err)
	}
	if err := env.engine.RegisterAdapter(newFakeAdapter("project-kb", env.now)); err == nil {
		t.Error("Expected duplicate registration rejected")
	}
}

func TestExecuteRetention_MissingAdapter(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())

	// A fresh engine without the adapter for this KB.
	eng := New(env.engine.policies, env.manager, env.gate, env.events, env.notifier,
		DefaultConfig(), scheduler.DefaultConfig())

	result, err := eng.ExecuteRetention(context.Background(), "scratch-kb")
	if !errors.Is(err, retention.ErrAdapterNotFound) {
		t.Errorf("Expected ErrAdapterNotFound, got %v", err)
	}
	if result.Success {
		t.Error("Result must not report success without an adapter")
	}

	if _, err := eng.ExecuteRetention(context.Background(), "no-such-kb"); !errors.Is(err, retention.ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound, got %v", err)
	}
}

func TestExecuteRetention_PurgesExpired(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	adapter := env.adapters["scratch-kb"]
	adapter.add("old-1", 100, false)
	adapter.add("old-protected", 100, true)
	adapter.add("fresh-1", 5, false)

	// old-1 is also in tiered tracking; deletion must untrack it.
	if _, err := env.manager.Ingest(ctx, "scratch-kb", "old-1", []byte("payload")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	result, err := env.engine.ExecuteRetention(ctx, "scratch-kb")
	if err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected successful run")
	}
	if result.RecordsProcessed != 3 {
		t.Errorf("Expected 3 processed, got %d", result.RecordsProcessed)
	}
	if result.RecordsPurged != 1 {
		t.Errorf("Expected 1 purged, got %d", result.RecordsPurged)
	}
	if result.PendingApproval != 0 {
		t.Errorf("Expected no pending approvals for no-approval policy, got %d", result.PendingApproval)
	}

	if adapter.has("old-1") {
		t.Error("Expired record should be deleted from the KB")
	}
	if !adapter.has("old-protected") || !adapter.has("fresh-1") {
		t.Error("Protected and fresh records must survive")
	}
	if _, err := env.manager.Index().Get("scratch-kb", "old-1"); !errors.Is(err, retention.ErrRecordNotTracked) {
		t.Error("Purged record should leave tiered tracking")
	}

	if got := env.eventCount(t, "scratch-kb", retention.ActionPurge); got != 1 {
		t.Errorf("Expected 1 purge event, got %d", got)
	}
	events, err := env.events.Query(ctx, &audit.Query{KBName: "scratch-kb", Action: retention.ActionPurge})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if events[0].ApprovedBy != "policy" || !events[0].Approved {
		t.Errorf("Expected policy-approved purge event, got %+v", events[0])
	}
}

func TestExecuteRetention_ApprovalFlow(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	adapter := env.adapters["project-kb"]
	adapter.add("old-1", 200, false)

	result, err := env.engine.ExecuteRetention(ctx, "project-kb")
	if err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	if result.PendingApproval != 1 || result.RecordsPurged != 0 {
		t.Fatalf("Expected 1 pending / 0 purged, got %d / %d",
			result.PendingApproval, result.RecordsPurged)
	}
	if !adapter.has("old-1") {
		t.Fatal("Record must survive until approval")
	}

	pending := env.engine.PendingApprovals()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending approval, got %d", len(pending))
	}

	approveResult, err := env.engine.ApproveDeletion(ctx, pending[0].ID, "operator:ada")
	if err != nil {
		t.Fatalf("ApproveDeletion() failed: %v", err)
	}
	if approveResult.RecordsPurged != 1 {
		t.Errorf("Expected 1 purged after approval, got %d", approveResult.RecordsPurged)
	}
	if adapter.has("old-1") {
		t.Error("Record should be deleted after approval")
	}

	events, err := env.events.Query(ctx, &audit.Query{KBName: "project-kb", Action: retention.ActionPurge})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(events) != 1 || events[0].ApprovedBy != "operator:ada" {
		t.Errorf("Expected purge event approved by operator:ada, got %+v", events)
	}
}

func TestExecuteRetention_DenyFlow(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	adapter := env.adapters["project-kb"]
	adapter.add("old-1", 200, false)

	if _, err := env.engine.ExecuteRetention(ctx, "project-kb"); err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	pending := env.engine.PendingApprovals()
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending approval, got %d", len(pending))
	}

	if err := env.engine.DenyDeletion(ctx, pending[0].ID, "operator:lin", "still needed"); err != nil {
		t.Fatalf("DenyDeletion() failed: %v", err)
	}

	if !adapter.has("old-1") {
		t.Error("Denied deletion must not touch the record")
	}
	if got := env.eventCount(t, "project-kb", retention.ActionVeto); got != 1 {
		t.Errorf("Expected 1 veto event, got %d", got)
	}
	if got := env.eventCount(t, "project-kb", retention.ActionPurge); got != 0 {
		t.Errorf("Expected no purge events after denial, got %d", got)
	}
}

func TestExecuteRetention_NeverExpires(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	env.adapters["keep-kb"].add("ancient", 10000, false)

	result, err := env.engine.ExecuteRetention(ctx, "keep-kb")
	if err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	if !result.Success || result.RecordsPurged != 0 || result.PendingApproval != 0 {
		t.Errorf("Expected no-op run for never-expiring KB, got %+v", result)
	}
	if !env.adapters["keep-kb"].has("ancient") {
		t.Error("Record in never-expiring KB must survive")
	}
}

func TestMarkMemoryAsEternal(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	adapter := env.adapters["scratch-kb"]
	adapter.add("keeper", 300, false)
	adapter.add("old-1", 300, false)

	if _, err := env.manager.Ingest(ctx, "scratch-kb", "keeper", []byte("keep me")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	marker, err := env.engine.MarkMemoryAsEternal(ctx, "scratch-kb", "keeper", "operator:ada", "founding design notes")
	if err != nil {
		t.Fatalf("MarkMemoryAsEternal() failed: %v", err)
	}
	if marker.MarkedBy != "operator:ada" {
		t.Errorf("Marker fields wrong: %+v", marker)
	}

	// Re-marking is idempotent and returns the original marker.
	again, err := env.engine.MarkMemoryAsEternal(ctx, "scratch-kb", "keeper", "operator:lin", "other reason")
	if err != nil {
		t.Fatalf("Re-mark failed: %v", err)
	}
	if again.MarkedBy != "operator:ada" || !again.MarkedAt.Equal(marker.MarkedAt) {
		t.Errorf("Expected original marker returned, got %+v", again)
	}
	if got := env.eventCount(t, "scratch-kb", retention.ActionMarkEternal); got != 1 {
		t.Errorf("Expected 1 mark_eternal event, got %d", got)
	}

	// Tracked records move to the eternal tier.
	record, err := env.manager.Index().Get("scratch-kb", "keeper")
	if err != nil {
		t.Fatalf("Index Get() failed: %v", err)
	}
	if record.Tier != retention.TierEternal {
		t.Errorf("Expected eternal tier placement, got %s", record.Tier)
	}

	// Retention never deletes an eternal-marked record.
	result, err := env.engine.ExecuteRetention(ctx, "scratch-kb")
	if err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	if result.RecordsPurged != 1 {
		t.Errorf("Expected only the unmarked record purged, got %d", result.RecordsPurged)
	}
	if !adapter.has("keeper") {
		t.Error("Eternal-marked record must survive retention")
	}

	if markers := env.engine.EternalMarkers("scratch-kb"); len(markers) != 1 {
		t.Errorf("Expected 1 eternal marker, got %d", len(markers))
	}
	if !env.engine.IsEternal("scratch-kb", "keeper") {
		t.Error("IsEternal() should report the marked record")
	}

	// Unknown KBs and anonymous markers are rejected.
	if _, err := env.engine.MarkMemoryAsEternal(ctx, "no-such-kb", "x", "operator:ada", ""); !errors.Is(err, retention.ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound, got %v", err)
	}
	if _, err := env.engine.MarkMemoryAsEternal(ctx, "scratch-kb", "x", "", ""); err == nil {
		t.Error("Expected anonymous eternal mark rejected")
	}
}

func TestEngine_AutoApprovedExecuted(t *testing.T) {
	gateConfig := veto.DefaultConfig()
	gateConfig.AutoApproveAfterWindow = true
	gateConfig.VetoWindowHours = 1
	env := newEngineEnv(t, gateConfig)
	ctx := context.Background()

	now := env.now
	env.gate.SetNowFunc(func() time.Time { return now })

	adapter := env.adapters["project-kb"]
	adapter.add("old-1", 200, false)

	if _, err := env.engine.ExecuteRetention(ctx, "project-kb"); err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}
	if !adapter.has("old-1") {
		t.Fatal("Record must survive inside the veto window")
	}

	// Past the window, the next run executes the auto-approved request.
	now = now.Add(2 * time.Hour)
	if _, err := env.engine.ExecuteRetention(ctx, "project-kb"); err != nil {
		t.Fatalf("Second ExecuteRetention() failed: %v", err)
	}
	if adapter.has("old-1") {
		t.Error("Auto-approved deletion should have executed")
	}

	events, err := env.events.Query(ctx, &audit.Query{KBName: "project-kb", Action: retention.ActionPurge})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(events) != 1 || events[0].ApprovedBy != "auto-approval" {
		t.Errorf("Expected purge approved by auto-approval, got %+v", events)
	}
}

func TestMigrateTiers(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	if _, err := env.manager.Ingest(ctx, "project-kb", "aged", []byte("aged payload")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if _, err := env.manager.Ingest(ctx, "project-kb", "recent", []byte("recent payload")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}

	// Backdate one record past the hot->warm threshold.
	old := env.now.AddDate(0, 0, -400)
	if err := env.manager.Index().Update("project-kb", "aged", func(r *retention.ArchivalRecord) {
		r.ArchivedAt = old
		r.LastAccessed = old
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if err := env.engine.MigrateTiers(ctx); err != nil {
		t.Fatalf("MigrateTiers() failed: %v", err)
	}

	aged, err := env.manager.Index().Get("project-kb", "aged")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if aged.Tier != retention.TierWarm {
		t.Errorf("Expected aged record in warm tier, got %s", aged.Tier)
	}
	recent, err := env.manager.Index().Get("project-kb", "recent")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if recent.Tier != retention.TierHot {
		t.Errorf("Expected recent record still hot, got %s", recent.Tier)
	}
}

func TestRetentionHealth(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	if _, err := env.manager.Ingest(ctx, "project-kb", "rec-1", []byte("payload one")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	env.adapters["project-kb"].add("old-1", 200, false)
	if _, err := env.engine.ExecuteRetention(ctx, "project-kb"); err != nil {
		t.Fatalf("ExecuteRetention() failed: %v", err)
	}

	rows := env.engine.RetentionHealth()
	if len(rows) != 4 {
		t.Fatalf("Expected 4 health rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].KBName >= rows[i].KBName {
			t.Fatal("Expected rows sorted by KB name")
		}
	}

	byKB := make(map[string]KBHealth, len(rows))
	for _, row := range rows {
		byKB[row.KBName] = row
	}

	project := byKB["project-kb"]
	if project.TotalRecords != 1 {
		t.Errorf("Expected 1 tracked record, got %d", project.TotalRecords)
	}
	if project.PerTierCounts[retention.TierHot] != 1 {
		t.Errorf("Expected 1 hot record, got %d", project.PerTierCounts[retention.TierHot])
	}
	if project.PendingActions != 1 {
		t.Errorf("Expected 1 pending action, got %d", project.PendingActions)
	}
	if project.HealthScore != 95 {
		t.Errorf("Expected score 95 with one parked deletion, got %d", project.HealthScore)
	}

	clean := byKB["scratch-kb"]
	if clean.HealthScore != 100 {
		t.Errorf("Expected clean KB at 100, got %d", clean.HealthScore)
	}
}

func TestVerifyIntegrity_Escalates(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())
	ctx := context.Background()

	if _, err := env.manager.Ingest(ctx, "project-kb", "rec-1", []byte("corruptible payload")); err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if !env.backend.Corrupt(retention.TierHot, "project-kb/rec-1") {
		t.Fatal("Corrupt() did not find the payload")
	}

	if err := env.engine.VerifyIntegrity(ctx); err != nil {
		t.Fatalf("VerifyIntegrity() failed: %v", err)
	}

	sent := env.notifier.Sent()
	if len(sent) == 0 {
		t.Fatal("Expected integrity escalation notification")
	}
	if sent[0].To != "retention-oncall" {
		t.Errorf("Expected escalation to retention-oncall, got %q", sent[0].To)
	}
}

func TestReviewPolicies(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())

	if err := env.engine.ReviewPolicies(context.Background()); err != nil {
		t.Fatalf("ReviewPolicies() failed: %v", err)
	}

	sent := env.notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 reminder, got %d", len(sent))
	}
	if sent[0].To != "retention-operators" {
		t.Errorf("Expected reminder to retention-operators, got %q", sent[0].To)
	}
	if !strings.Contains(sent[0].Body, "vault-kb: immutable") {
		t.Errorf("Expected immutable policy in reminder body, got %q", sent[0].Body)
	}
}

func TestEngine_StartStop(t *testing.T) {
	env := newEngineEnv(t, veto.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := env.engine.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !env.engine.Scheduler().IsRunning() {
		t.Error("Scheduler should run after engine start")
	}

	// Three KBs expire by age (vault-kb is immutable, keep-kb still
	// gets a daily task since retentionDays 0 only disables deletion).
	tasks := env.engine.Scheduler().Tasks()
	if len(tasks) != 6 {
		t.Errorf("Expected 6 tasks (3 daily + 3 fleet), got %d", len(tasks))
	}

	env.engine.Stop()
	if env.engine.Scheduler().IsRunning() {
		t.Error("Scheduler should stop with the engine")
	}
}
