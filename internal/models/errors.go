package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned when a write carries a stale version. The caller
// holds an outdated copy of the task and must reload before deciding what
// to do next.
var ErrConflict = errors.New("version conflict")

// ErrTaskNotFound is returned when a task id resolves to no row.
var ErrTaskNotFound = errors.New("task not found")

// InvalidTransitionError reports a status change that is not in the
// transition table.
type InvalidTransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition: %s -> %s", e.From, e.To)
}

// InvalidStateError reports an execution request against a task that is not
// in a publishable state. No side effects have occurred.
type InvalidStateError struct {
	TaskID string
	Status TaskStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task %s is not publishable in status %s", e.TaskID, e.Status)
}

// PlatformPublishError reports a single platform's publish failure. It is
// recorded against that platform only and never aborts sibling platforms.
type PlatformPublishError struct {
	Platform string
	Err      error
}

func (e *PlatformPublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Platform, e.Err)
}

func (e *PlatformPublishError) Unwrap() error { return e.Err }

// MissedJobError reports a job whose due time passed by more than its
// misfire grace period. The job is not executed.
type MissedJobError struct {
	JobID  string
	TaskID string
	DueAt  time.Time
	Grace  time.Duration
}

func (e *MissedJobError) Error() string {
	return fmt.Sprintf("job %s for task %s missed: due %s, grace %s",
		e.JobID, e.TaskID, e.DueAt.Format(time.RFC3339), e.Grace)
}

// StoreUnavailableError wraps a persistence failure. It is fatal to the
// current execution attempt and eligible for scheduler-level backoff retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsStoreUnavailable reports whether err is, or wraps, a store availability
// failure.
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}
