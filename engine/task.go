package engine

import (
	"context"
	"maps"
	"time"
)

// Task is a unit of deferred work. The engine calls it with a context that
// carries the per-attempt deadline and the cancellation signal; a task that
// honors ctx at its blocking points can be interrupted, one that ignores it
// is abandoned on timeout or cancellation and its outcome discarded.
type Task func(ctx context.Context) (any, error)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status is final. Terminal records never
// transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// TaskRecord is a point-in-time snapshot of a task's lifecycle metadata.
// Records returned by Manager methods are copies; mutating one has no
// effect on the engine.
type TaskRecord struct {
	// ID is the process-unique identifier assigned at submission.
	ID string

	// Name is a diagnostic label for logs and status output.
	Name string

	// Status is the task's position in the lifecycle state machine.
	Status Status

	// CreatedAt is the submission time. StartedAt and CompletedAt stay
	// zero until the corresponding transition happens.
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Result holds the task's return value, set only on Completed.
	Result any

	// Err holds the terminal failure: the task's own error verbatim on
	// Failed, an error wrapping ErrTaskTimedOut or ErrTaskCancelled
	// otherwise.
	Err error

	// RetryCount is the number of attempts made beyond the first.
	RetryCount int

	// MaxRetries caps RetryCount; fixed at submission.
	MaxRetries int

	// Timeout is the per-attempt budget; fixed at submission.
	Timeout time.Duration

	// Metadata is an opaque caller-supplied bag, never interpreted.
	Metadata map[string]any
}

// Terminal reports whether the record has reached a final state.
func (r TaskRecord) Terminal() bool {
	return r.Status.Terminal()
}

// ExecutionTime returns the wall time between start and completion, or
// zero while either is unset.
func (r TaskRecord) ExecutionTime() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// taskState is the engine-internal record. The embedded TaskRecord and the
// counters it feeds are guarded by the Manager's mutex; the remaining
// fields are set once at submission and read-only afterwards.
type taskState struct {
	TaskRecord

	work   Task
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed exactly once, on the transition to a terminal state.
	done chan struct{}
}

// snapshot copies the record for handing outside the lock. Callers must
// hold the Manager's mutex.
func (st *taskState) snapshot() TaskRecord {
	rec := st.TaskRecord
	if st.Metadata != nil {
		rec.Metadata = maps.Clone(st.Metadata)
	}
	return rec
}
