package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/policy"
)

// Executor is the work the scheduler dispatches to. The retention
// engine implements it.
type Executor interface {
	// ExecuteRetention applies the retention policy of one KB.
	ExecuteRetention(ctx context.Context, kbName string) (*retention.Result, error)

	// VerifyIntegrity checks the checksums of all archived records.
	VerifyIntegrity(ctx context.Context) error

	// MigrateTiers ages records down the tier ladder and re-archives
	// cold data past the durability horizon.
	MigrateTiers(ctx context.Context) error

	// ReviewPolicies notifies operators that the configured policies
	// are due for their periodic review.
	ReviewPolicies(ctx context.Context) error
}

// TaskRecorder receives one event per task firing. Implemented by the
// telemetry metrics collector.
type TaskRecorder interface {
	RecordTaskRun(taskID, kind, status string)
}

// Config holds the cron expressions for the four task families.
type Config struct {
	DailySchedule   string `yaml:"daily_schedule"`   // per-KB retention sweep
	WeeklySchedule  string `yaml:"weekly_schedule"`  // integrity verification
	MonthlySchedule string `yaml:"monthly_schedule"` // tier migration
	AnnualSchedule  string `yaml:"annual_schedule"`  // policy review reminder
}

// DefaultConfig returns the stock schedules. Sweeps run in the small
// hours UTC, staggered so they never start together.
func DefaultConfig() Config {
	return Config{
		DailySchedule:   "0 3 * * *",
		WeeklySchedule:  "0 4 * * 0",
		MonthlySchedule: "0 5 1 * *",
		AnnualSchedule:  "0 6 1 1 *",
	}
}

// ApplyDefaults fills empty schedules with the stock ones.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.DailySchedule == "" {
		c.DailySchedule = defaults.DailySchedule
	}
	if c.WeeklySchedule == "" {
		c.WeeklySchedule = defaults.WeeklySchedule
	}
	if c.MonthlySchedule == "" {
		c.MonthlySchedule = defaults.MonthlySchedule
	}
	if c.AnnualSchedule == "" {
		c.AnnualSchedule = defaults.AnnualSchedule
	}
}

// Scheduler owns the task table and fires tasks on their cron
// schedules. Each task runs on its own goroutine.
type Scheduler struct {
	executor Executor
	policies *policy.Registry
	config   Config
	clock    Clock
	logger   *slog.Logger
	recorder TaskRecorder

	mu       sync.Mutex
	tasks    map[string]*taskState
	order    []string
	inFlight map[string]bool
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the given executor and policy
// set. Call Initialize to build the task table before Start.
func NewScheduler(executor Executor, policies *policy.Registry, config Config) *Scheduler {
	config.ApplyDefaults()
	return &Scheduler{
		executor: executor,
		policies: policies,
		config:   config,
		clock:    NewClock(),
		logger:   slog.Default().With("component", "retention.scheduler"),
		tasks:    make(map[string]*taskState),
		inFlight: make(map[string]bool),
	}
}

// SetClock replaces the wall clock. Must be called before Start.
func (s *Scheduler) SetClock(clock Clock) {
	s.clock = clock
}

// SetRecorder installs a task run recorder. Must be called before
// Start. A nil recorder disables recording.
func (s *Scheduler) SetRecorder(recorder TaskRecorder) {
	s.recorder = recorder
}

// recordRun forwards one firing to the recorder, if any.
func (s *Scheduler) recordRun(taskID, kind, status string) {
	if s.recorder != nil {
		s.recorder.RecordTaskRun(taskID, kind, status)
	}
}

// Initialize builds the task table: one daily retention task per
// non-immutable KB, plus the three fleet-wide tasks. Immutable KBs
// get no retention task because nothing in them ever expires.
func (s *Scheduler) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*taskState)
	s.order = nil

	for _, pol := range s.policies.All() {
		if pol.Immutable {
			continue
		}
		if err := s.addTask(Task{
			ID:             "daily-" + pol.KBName,
			Name:           fmt.Sprintf("daily retention sweep (%s)", pol.KBName),
			Kind:           TaskDailyRetention,
			CronExpression: s.config.DailySchedule,
			KBName:         pol.KBName,
			Enabled:        true,
		}); err != nil {
			return err
		}
	}

	fleet := []Task{
		{
			ID:             "weekly-integrity",
			Name:           "weekly integrity verification",
			Kind:           TaskWeeklyIntegrity,
			CronExpression: s.config.WeeklySchedule,
			Enabled:        true,
		},
		{
			ID:             "monthly-migration",
			Name:           "monthly tier migration",
			Kind:           TaskMonthlyMigration,
			CronExpression: s.config.MonthlySchedule,
			Enabled:        true,
		},
		{
			ID:             "annual-review",
			Name:           "annual policy review reminder",
			Kind:           TaskAnnualReview,
			CronExpression: s.config.AnnualSchedule,
			Enabled:        true,
		},
	}
	for _, task := range fleet {
		if err := s.addTask(task); err != nil {
			return err
		}
	}

	s.logger.Info("task table initialized", "tasks", len(s.tasks))
	return nil
}

// addTask parses the cron expression and registers the task. Caller
// holds the lock.
func (s *Scheduler) addTask(task Task) error {
	schedule, err := cron.ParseStandard(task.CronExpression)
	if err != nil {
		return retention.NewTaskError(task.ID, task.Name,
			fmt.Errorf("invalid cron schedule %q: %w", task.CronExpression, err))
	}
	next := schedule.Next(s.clock.Now().UTC())
	task.NextRun = &next
	s.tasks[task.ID] = &taskState{Task: task, schedule: schedule}
	s.order = append(s.order, task.ID)
	return nil
}

// Start launches one goroutine per enabled task. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.tasks) == 0 {
		return errors.New("scheduler has no tasks: call Initialize first")
	}

	s.stopCh = make(chan struct{})
	s.running = true

	for _, id := range s.order {
		s.wg.Add(1)
		go s.runLoop(ctx, id, s.stopCh)
	}

	s.logger.Info("scheduler started", "tasks", len(s.tasks))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts all task loops and waits for in-flight runs to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the task loops are live.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runLoop sleeps until the task's next firing, runs it, and repeats.
func (s *Scheduler) runLoop(ctx context.Context, id string, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		ts, ok := s.tasks[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		now := s.clock.Now().UTC()
		next := ts.schedule.Next(now)
		ts.NextRun = &next
		s.mu.Unlock()

		select {
		case <-s.clock.After(next.Sub(now)):
			s.mu.Lock()
			enabled := ts.Enabled
			s.mu.Unlock()
			if !enabled {
				continue
			}
			if err := s.runTask(ctx, id); err != nil {
				var busy *taskBusyError
				if !errors.As(err, &busy) {
					s.logger.Error("scheduled task failed", "task", id, "error", err)
				}
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ForceRunTask runs a task immediately, outside its schedule. It
// shares the execution path (and the in-flight guard) with scheduled
// firings, so a forced run cannot overlap a scheduled one.
func (s *Scheduler) ForceRunTask(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return retention.NewTaskError(id, "", retention.ErrTaskNotFound)
	}
	return s.runTask(ctx, id)
}

// taskBusyError marks a firing skipped because the previous run of
// the same task is still in flight.
type taskBusyError struct{ id string }

func (e *taskBusyError) Error() string {
	return fmt.Sprintf("task %s is already running", e.id)
}

// runTask executes one task run under the per-task in-flight guard.
// LastRun and NextRun are updated whether the run succeeds or fails.
func (s *Scheduler) runTask(ctx context.Context, id string) error {
	s.mu.Lock()
	ts, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return retention.NewTaskError(id, "", retention.ErrTaskNotFound)
	}
	if s.inFlight[id] {
		kind := ts.Kind
		s.mu.Unlock()
		s.logger.Warn("skipping task firing, previous run still in flight", "task", id)
		s.recordRun(id, string(kind), "skipped")
		return &taskBusyError{id: id}
	}
	s.inFlight[id] = true
	task := ts.snapshot()
	s.mu.Unlock()

	s.logger.Info("task run starting", "task", id, "kind", task.Kind)
	start := s.clock.Now().UTC()
	err := s.execute(ctx, task)

	s.mu.Lock()
	delete(s.inFlight, id)
	if ts, ok := s.tasks[id]; ok {
		ts.LastRun = &start
		next := ts.schedule.Next(s.clock.Now().UTC())
		ts.NextRun = &next
	}
	s.mu.Unlock()

	if err != nil {
		s.recordRun(id, string(task.Kind), "failure")
		return retention.NewTaskError(id, task.Name, err)
	}
	s.recordRun(id, string(task.Kind), "success")
	s.logger.Info("task run completed", "task", id, "kind", task.Kind,
		"duration", s.clock.Now().UTC().Sub(start))
	return nil
}

// execute dispatches on the task kind.
func (s *Scheduler) execute(ctx context.Context, task Task) error {
	switch task.Kind {
	case TaskDailyRetention:
		result, err := s.executor.ExecuteRetention(ctx, task.KBName)
		if err != nil {
			return err
		}
		s.logger.Info("retention sweep finished",
			"kb", task.KBName,
			"processed", result.RecordsProcessed,
			"purged", result.RecordsPurged,
			"pending_approval", result.PendingApproval,
			"errors", len(result.Errors),
		)
		return nil
	case TaskWeeklyIntegrity:
		return s.executor.VerifyIntegrity(ctx)
	case TaskMonthlyMigration:
		return s.executor.MigrateTiers(ctx)
	case TaskAnnualReview:
		return s.executor.ReviewPolicies(ctx)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// Tasks returns a snapshot of the task table in registration order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].snapshot())
	}
	return out
}

// TaskByID returns a snapshot of one task.
func (s *Scheduler) TaskByID(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tasks[id]
	if !ok {
		return Task{}, retention.NewTaskError(id, "", retention.ErrTaskNotFound)
	}
	return ts.snapshot(), nil
}

// TasksForKB returns the tasks targeting kbName plus the fleet-wide
// tasks, sorted by ID. Used by the health report.
func (s *Scheduler) TasksForKB(kbName string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, id := range s.order {
		ts := s.tasks[id]
		if ts.KBName == kbName || ts.KBName == "" {
			out = append(out, ts.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetTaskEnabled flips a task on or off. Disabling takes effect at the
// task's next firing; an in-flight run is not interrupted.
func (s *Scheduler) SetTaskEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tasks[id]
	if !ok {
		return retention.NewTaskError(id, "", retention.ErrTaskNotFound)
	}
	ts.Enabled = enabled
	return nil
}

// nextRunAcross returns the soonest NextRun among the given tasks.
func nextRunAcross(tasks []Task) *time.Time {
	var next *time.Time
	for _, task := range tasks {
		if task.NextRun == nil {
			continue
		}
		if next == nil || task.NextRun.Before(*next) {
			t := *task.NextRun
			next = &t
		}
	}
	return next
}

// NextRunFor returns the soonest scheduled firing among the tasks
// covering kbName.
func (s *Scheduler) NextRunFor(kbName string) *time.Time {
	return nextRunAcross(s.TasksForKB(kbName))
}

// LastRunFor returns the most recent completed run among the tasks
// covering kbName.
func (s *Scheduler) LastRunFor(kbName string) *time.Time {
	var last *time.Time
	for _, task := range s.TasksForKB(kbName) {
		if task.LastRun == nil {
			continue
		}
		if last == nil || task.LastRun.After(*last) {
			t := *task.LastRun
			last = &t
		}
	}
	return last
}
