package engine

import "errors"

// Sentinel errors returned by Manager operations. Callers match them with
// errors.Is; most are returned wrapped with additional context.
var (
	// ErrQueueFull indicates the number of outstanding tasks has reached
	// MaxQueueSize and the submission was rejected.
	ErrQueueFull = errors.New("task queue is full")

	// ErrTaskNotFound indicates the task id is unknown or its record has
	// already been reclaimed by the cleanup sweeper.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskCancelled indicates the task was cancelled before it could
	// complete.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrTaskTimedOut indicates an attempt exceeded its timeout. Timed out
	// tasks are terminal and never retried.
	ErrTaskTimedOut = errors.New("task timed out")

	// ErrWaitTimeout indicates a Wait call's own budget elapsed before the
	// task reached a terminal state.
	ErrWaitTimeout = errors.New("wait timeout elapsed")

	// ErrNotStarted indicates the Manager has not been started.
	ErrNotStarted = errors.New("task manager not started")

	// ErrStopped indicates the Manager has been stopped and no longer
	// accepts work.
	ErrStopped = errors.New("task manager stopped")

	// ErrNilTask indicates a nil unit of work was submitted.
	ErrNilTask = errors.New("nil task")
)
