package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// TaskKind identifies what a scheduled task does when it fires.
type TaskKind string

const (
	// TaskDailyRetention applies a KB's retention policy: age out
	// expired records and route deletions through the veto gate.
	TaskDailyRetention TaskKind = "daily_retention"

	// TaskWeeklyIntegrity verifies checksums across all archived
	// records.
	TaskWeeklyIntegrity TaskKind = "weekly_integrity"

	// TaskMonthlyMigration moves aged records down the tier ladder and
	// re-archives cold data past the durability horizon.
	TaskMonthlyMigration TaskKind = "monthly_migration"

	// TaskAnnualReview reminds operators to re-validate the configured
	// retention policies.
	TaskAnnualReview TaskKind = "annual_review"
)

// Task describes one scheduled unit of retention work. Copies are
// returned to callers; the scheduler owns the live state.
type Task struct {
	ID             string     // stable identifier, e.g. "daily-project-kb"
	Name           string     // human-readable name for logs and the CLI
	Kind           TaskKind   // what fires
	CronExpression string     // five-field cron, evaluated in UTC
	KBName         string     // target KB, empty for fleet-wide tasks
	Enabled        bool       // disabled tasks are kept but never fire
	LastRun        *time.Time // completion time of the most recent run
	NextRun        *time.Time // next scheduled firing
}

// taskState pairs a Task with its parsed schedule.
type taskState struct {
	Task
	schedule cron.Schedule
}

// snapshot returns a caller-owned copy of the task.
func (ts *taskState) snapshot() Task {
	task := ts.Task
	if ts.LastRun != nil {
		last := *ts.LastRun
		task.LastRun = &last
	}
	if ts.NextRun != nil {
		next := *ts.NextRun
		task.NextRun = &next
	}
	return task
}
