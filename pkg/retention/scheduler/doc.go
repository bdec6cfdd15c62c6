// Package scheduler runs retention work on cron schedules.
//
// One daily retention task is created per non-immutable KB, plus a
// weekly integrity verification task, a monthly tier migration task,
// and an annual policy review reminder. All schedules are standard
// five-field cron expressions evaluated in UTC.
//
// Every task runs on its own goroutine so a slow tier migration never
// delays a retention sweep. A per-task guard skips a firing when the
// previous run of the same task is still in flight, and a failed run
// only logs: the schedule itself is never stalled by task errors.
package scheduler
