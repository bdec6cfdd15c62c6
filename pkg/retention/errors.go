package retention

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicyNotFound is returned when no retention policy exists for
	// the requested KB.
	ErrPolicyNotFound = errors.New("retention policy not found")

	// ErrAdapterNotFound is returned when no adapter is registered for
	// the requested KB.
	ErrAdapterNotFound = errors.New("kb adapter not registered")

	// ErrImmutableKB is returned for any deletion attempt against an
	// immutable KB. There is no approval path for immutable KBs.
	ErrImmutableKB = errors.New("kb is immutable: deletion is never permitted")

	// ErrMigrationInProgress is returned when a tier transition for the
	// same (kb, from, to) pair is already running.
	ErrMigrationInProgress = errors.New("tier migration already in progress")

	// ErrChecksumMismatch is returned when an archived payload fails
	// integrity verification. Unverified data is never served.
	ErrChecksumMismatch = errors.New("archived payload checksum mismatch")

	// ErrRecordNotTracked is returned when a record has no entry in the
	// archival index.
	ErrRecordNotTracked = errors.New("record not tracked in archival index")

	// ErrApprovalNotFound is returned for approve/deny calls against an
	// unknown pending request.
	ErrApprovalNotFound = errors.New("pending approval not found")

	// ErrApprovalResolved is returned for approve/deny calls against a
	// request that has already been decided.
	ErrApprovalResolved = errors.New("approval request already resolved")

	// ErrTaskNotFound is returned for operations against an unknown
	// scheduled task ID.
	ErrTaskNotFound = errors.New("scheduled task not found")
)

// PolicyError reports a policy-level rejection. Policy errors are
// synchronous and never retried.
type PolicyError struct {
	KBName    string // KB the operation targeted
	Operation string // operation that was rejected
	Cause     error  // underlying reason
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy error [kb=%s, operation=%s]: %v", e.KBName, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PolicyError) Unwrap() error {
	return e.Cause
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(kbName, operation string, cause error) *PolicyError {
	return &PolicyError{KBName: kbName, Operation: operation, Cause: cause}
}

// BackendError reports a failure from a tier storage backend.
type BackendError struct {
	Backend   string // backend type ("memory", "filesystem", ...)
	Tier      Tier   // tier the operation targeted
	Operation string // operation that failed ("store", "retrieve", ...)
	Cause     error  // underlying error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("tier backend error [backend=%s, tier=%s, operation=%s]: %v",
		e.Backend, e.Tier, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend string, tier Tier, operation string, cause error) *BackendError {
	return &BackendError{Backend: backend, Tier: tier, Operation: operation, Cause: cause}
}

// IntegrityError reports a checksum verification failure for one
// tracked record. Integrity errors are escalated, never silently
// dropped, and never "repaired" by recomputing a checksum from the
// corrupted payload.
type IntegrityError struct {
	KBName   string // owning KB
	RecordID string // affected record
	Expected string // checksum stored in the index
	Actual   string // checksum recomputed from the payload
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error [kb=%s, record=%s]: stored checksum %.12s.. does not match payload %.12s..",
		e.KBName, e.RecordID, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch so callers can match with
// errors.Is.
func (e *IntegrityError) Unwrap() error {
	return ErrChecksumMismatch
}

// NewIntegrityError creates a new IntegrityError.
func NewIntegrityError(kbName, recordID, expected, actual string) *IntegrityError {
	return &IntegrityError{KBName: kbName, RecordID: recordID, Expected: expected, Actual: actual}
}

// VetoError reports a rejection by the veto gate.
type VetoError struct {
	KBName string // KB the deletion targeted
	Cause  error  // underlying reason
}

// Error implements the error interface.
func (e *VetoError) Error() string {
	return fmt.Sprintf("veto error [kb=%s]: %v", e.KBName, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *VetoError) Unwrap() error {
	return e.Cause
}

// NewVetoError creates a new VetoError.
func NewVetoError(kbName string, cause error) *VetoError {
	return &VetoError{KBName: kbName, Cause: cause}
}

// TaskError reports a failure during a scheduled task run. Task errors
// are caught at the task boundary; the schedule is never stalled.
type TaskError struct {
	TaskID   string // failing task
	TaskName string // human-readable task name
	Cause    error  // underlying error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task error [task=%s, name=%s]: %v", e.TaskID, e.TaskName, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// NewTaskError creates a new TaskError.
func NewTaskError(taskID, taskName string, cause error) *TaskError {
	return &TaskError{TaskID: taskID, TaskName: taskName, Cause: cause}
}
