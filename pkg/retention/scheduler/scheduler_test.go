package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/policy"
)

// fakeClock drives task firing deterministically. After registers a
// waiter; Advance moves time forward and fires every waiter whose
// deadline has passed.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	var keep []*fakeWaiter
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			keep = append(keep, w)
		}
	}
	c.waiters = keep
}

// waitForWaiters blocks until n task loops are parked on the clock,
// so Advance cannot race loop startup.
func (c *fakeClock) waitForWaiters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.waiters)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clock waiters", n)
}

// stubExecutor records calls and signals each run on ran.
type stubExecutor struct {
	mu             sync.Mutex
	retentionCalls []string
	integrityCalls int
	migrationCalls int
	reviewCalls    int

	retentionErr error
	blockOn      chan struct{} // if set, VerifyIntegrity blocks until closed
	ran          chan string
	seen         []string // events drained off ran but not yet matched by waitFor
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{ran: make(chan string, 32)}
}

func (e *stubExecutor) ExecuteRetention(_ context.Context, kbName string) (*retention.Result, error) {
	e.mu.Lock()
	e.retentionCalls = append(e.retentionCalls, kbName)
	err := e.retentionErr
	e.mu.Unlock()
	e.ran <- "retention:" + kbName
	if err != nil {
		return nil, err
	}
	return &retention.Result{Success: true}, nil
}

func (e *stubExecutor) VerifyIntegrity(context.Context) error {
	if e.blockOn != nil {
		<-e.blockOn
	}
	e.mu.Lock()
	e.integrityCalls++
	e.mu.Unlock()
	e.ran <- "integrity"
	return nil
}

func (e *stubExecutor) MigrateTiers(context.Context) error {
	e.mu.Lock()
	e.migrationCalls++
	e.mu.Unlock()
	e.ran <- "migration"
	return nil
}

func (e *stubExecutor) ReviewPolicies(context.Context) error {
	e.mu.Lock()
	e.reviewCalls++
	e.mu.Unlock()
	e.ran <- "review"
	return nil
}

func (e *stubExecutor) waitFor(t *testing.T, want string) {
	t.Helper()
	e.mu.Lock()
	for i, got := range e.seen {
		if got == want {
			e.seen = append(e.seen[:i], e.seen[i+1:]...)
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-e.ran:
			if got == want {
				return
			}
			e.mu.Lock()
			e.seen = append(e.seen, got)
			e.mu.Unlock()
		case <-deadline:
			t.Fatalf("timed out waiting for %q run", want)
		}
	}
}

func schedulerRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.NewRegistry([]retention.Policy{
		{KBName: "project-kb", RetentionDays: 365, TieredStorage: true},
		{KBName: "scratch-kb", RetentionDays: 30},
		{KBName: "vault-kb", Immutable: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	return reg
}

func TestScheduler_Initialize(t *testing.T) {
	sched := NewScheduler(newStubExecutor(), schedulerRegistry(t), DefaultConfig())

	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	tasks := sched.Tasks()
	if len(tasks) != 5 {
		t.Fatalf("Expected 5 tasks (2 daily + 3 fleet), got %d", len(tasks))
	}

	byID := make(map[string]Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		if task.NextRun == nil {
			t.Errorf("Task %s has no NextRun after Initialize", task.ID)
		}
		if !task.Enabled {
			t.Errorf("Task %s should start enabled", task.ID)
		}
	}

	for _, id := range []string{"daily-project-kb", "daily-scratch-kb", "weekly-integrity", "monthly-migration", "annual-review"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("Expected task %s in table", id)
		}
	}
	if _, ok := byID["daily-vault-kb"]; ok {
		t.Error("Immutable KB must not get a retention task")
	}
}

func TestScheduler_InitializeInvalidSchedule(t *testing.T) {
	config := DefaultConfig()
	config.WeeklySchedule = "not cron"
	sched := NewScheduler(newStubExecutor(), schedulerRegistry(t), config)

	err := sched.Initialize()
	if err == nil {
		t.Fatal("Expected error for invalid cron expression")
	}
	var taskErr *retention.TaskError
	if !errors.As(err, &taskErr) {
		t.Errorf("Expected TaskError, got %T", err)
	}
}

func TestScheduler_FiresDailyTasks(t *testing.T) {
	executor := newStubExecutor()
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	sched := NewScheduler(executor, schedulerRegistry(t), DefaultConfig())
	sched.SetClock(clock)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	clock.waitForWaiters(t, 5)
	clock.Advance(3 * time.Hour) // 03:00 UTC, daily firing

	executor.waitFor(t, "retention:project-kb")
	executor.waitFor(t, "retention:scratch-kb")

	executor.mu.Lock()
	integrity := executor.integrityCalls
	executor.mu.Unlock()
	if integrity != 0 {
		t.Errorf("Weekly task fired after 3 hours, got %d integrity runs", integrity)
	}

	// Loops re-park after the run; the task record reflects it.
	clock.waitForWaiters(t, 5)
	task, err := sched.TaskByID("daily-project-kb")
	if err != nil {
		t.Fatalf("TaskByID() failed: %v", err)
	}
	if task.LastRun == nil {
		t.Fatal("Expected LastRun set after firing")
	}
	want := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	if task.NextRun == nil || !task.NextRun.Equal(want) {
		t.Errorf("Expected NextRun %v, got %v", want, task.NextRun)
	}
}

func TestScheduler_FailureDoesNotStallSchedule(t *testing.T) {
	executor := newStubExecutor()
	executor.retentionErr = fmt.Errorf("adapter offline")
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	sched := NewScheduler(executor, schedulerRegistry(t), DefaultConfig())
	sched.SetClock(clock)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	clock.waitForWaiters(t, 5)
	clock.Advance(3 * time.Hour)
	executor.waitFor(t, "retention:project-kb")

	clock.waitForWaiters(t, 5)
	clock.Advance(24 * time.Hour)
	executor.waitFor(t, "retention:project-kb")

	executor.mu.Lock()
	runs := 0
	for _, kb := range executor.retentionCalls {
		if kb == "project-kb" {
			runs++
		}
	}
	executor.mu.Unlock()
	if runs != 2 {
		t.Errorf("Expected 2 runs despite failures, got %d", runs)
	}
}

func TestScheduler_ForceRunTask(t *testing.T) {
	executor := newStubExecutor()
	sched := NewScheduler(executor, schedulerRegistry(t), DefaultConfig())
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := sched.ForceRunTask(context.Background(), "weekly-integrity"); err != nil {
		t.Fatalf("ForceRunTask() failed: %v", err)
	}
	if executor.integrityCalls != 1 {
		t.Errorf("Expected 1 integrity run, got %d", executor.integrityCalls)
	}

	task, err := sched.TaskByID("weekly-integrity")
	if err != nil {
		t.Fatalf("TaskByID() failed: %v", err)
	}
	if task.LastRun == nil {
		t.Error("Expected LastRun set after forced run")
	}

	if err := sched.ForceRunTask(context.Background(), "no-such-task"); !errors.Is(err, retention.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestScheduler_InFlightGuard(t *testing.T) {
	executor := newStubExecutor()
	executor.blockOn = make(chan struct{})

	sched := NewScheduler(executor, schedulerRegistry(t), DefaultConfig())
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sched.ForceRunTask(context.Background(), "weekly-integrity")
	}()

	// Wait until the first run is inside the executor.
	deadline := time.Now().Add(5 * time.Second)
	for {
		sched.mu.Lock()
		busy := sched.inFlight["weekly-integrity"]
		sched.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	err := sched.ForceRunTask(context.Background(), "weekly-integrity")
	var busy *taskBusyError
	if !errors.As(err, &busy) {
		t.Errorf("Expected overlapping run rejected, got %v", err)
	}

	close(executor.blockOn)
	if err := <-done; err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if executor.integrityCalls != 1 {
		t.Errorf("Expected exactly 1 integrity run, got %d", executor.integrityCalls)
	}
}

func TestScheduler_SetTaskEnabled(t *testing.T) {
	executor := newStubExecutor()
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	sched := NewScheduler(executor, schedulerRegistry(t), DefaultConfig())
	sched.SetClock(clock)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := sched.SetTaskEnabled("daily-scratch-kb", false); err != nil {
		t.Fatalf("SetTaskEnabled() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer sched.Stop()

	clock.waitForWaiters(t, 5)
	clock.Advance(3 * time.Hour)
	executor.waitFor(t, "retention:project-kb")
	clock.waitForWaiters(t, 5)

	executor.mu.Lock()
	defer executor.mu.Unlock()
	for _, kb := range executor.retentionCalls {
		if kb == "scratch-kb" {
			t.Fatal("Disabled task fired")
		}
	}
}

func TestScheduler_StartStop(t *testing.T) {
	sched := NewScheduler(newStubExecutor(), schedulerRegistry(t), DefaultConfig())

	if err := sched.Start(context.Background()); err == nil {
		t.Error("Expected Start() before Initialize() to fail")
	}

	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := sched.Start(ctx); err != nil {
			t.Fatalf("Start() iteration %d failed: %v", i, err)
		}
		if !sched.IsRunning() {
			t.Errorf("IsRunning() = false after Start() iteration %d", i)
		}
		// Second Start while running is a no-op.
		if err := sched.Start(ctx); err != nil {
			t.Errorf("Redundant Start() failed: %v", err)
		}
		sched.Stop()
		sched.Stop()
		if sched.IsRunning() {
			t.Errorf("IsRunning() = true after Stop() iteration %d", i)
		}
	}
}

func TestScheduler_ContextCancelStops(t *testing.T) {
	sched := NewScheduler(newStubExecutor(), schedulerRegistry(t), DefaultConfig())
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for sched.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still running after context cancelled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_NextRunFor(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := NewScheduler(newStubExecutor(), schedulerRegistry(t), DefaultConfig())
	sched.SetClock(clock)
	if err := sched.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	// Daily at 03:00 is sooner than any fleet task.
	next := sched.NextRunFor("project-kb")
	want := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	if next == nil || !next.Equal(want) {
		t.Errorf("NextRunFor() = %v, want %v", next, want)
	}

	// Immutable KBs only have the fleet-wide tasks; the weekly
	// integrity run on Sunday 04:00 comes first.
	next = sched.NextRunFor("vault-kb")
	want = time.Date(2026, 1, 4, 4, 0, 0, 0, time.UTC)
	if next == nil || !next.Equal(want) {
		t.Errorf("NextRunFor(vault-kb) = %v, want %v", next, want)
	}

	if last := sched.LastRunFor("project-kb"); last != nil {
		t.Errorf("LastRunFor() before any run = %v, want nil", last)
	}
}
