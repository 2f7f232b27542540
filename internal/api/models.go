package api

import (
	"time"

	"github.com/phrazzld/taskengine/engine"
)

// Common request/response structures

// SubmitTaskRequest defines the payload for submitting a task.
type SubmitTaskRequest struct {
	// Kind names a registered workload.
	Kind string `json:"kind" validate:"required"`

	// Name labels the task in logs and status output. Optional.
	Name string `json:"name" validate:"omitempty,max=128"`

	// Params configure the workload builder.
	Params map[string]any `json:"params"`

	// TimeoutSeconds overrides the per-attempt budget when positive.
	TimeoutSeconds float64 `json:"timeout_seconds" validate:"omitempty,gte=0"`

	// MaxRetries overrides the retry ceiling. Nil keeps the manager
	// default; zero disables retries.
	MaxRetries *int `json:"max_retries" validate:"omitempty,gte=0"`

	// Metadata is attached to the task record untouched.
	Metadata map[string]any `json:"metadata"`
}

// SubmitTaskResponse acknowledges an accepted submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// TaskResponse is a task record snapshot.
type TaskResponse struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	Error          string         `json:"error,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds float64        `json:"timeout_seconds"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ResultResponse carries a completed task's return value.
type ResultResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result any    `json:"result"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	TaskID string `json:"task_id"`

	// Cancelled is false when the task had already reached a terminal
	// state.
	Cancelled bool `json:"cancelled"`
}

// StatsResponse summarizes the manager's workload.
type StatsResponse struct {
	TotalTasks         int64   `json:"total_tasks"`
	Pending            int64   `json:"pending"`
	Running            int64   `json:"running"`
	Completed          int64   `json:"completed"`
	Failed             int64   `json:"failed"`
	Cancelled          int64   `json:"cancelled"`
	TimedOut           int64   `json:"timed_out"`
	CurrentTasks       int64   `json:"current_tasks"`
	AvgExecutionTimeMS float64 `json:"avg_execution_time_ms"`
	MemoryTaskCount    int     `json:"memory_task_count"`
}

// WorkloadsResponse lists the registered workload kinds.
type WorkloadsResponse struct {
	Workloads []string `json:"workloads"`
}

// taskToResponse converts an engine record to its API shape.
func taskToResponse(rec engine.TaskRecord) TaskResponse {
	resp := TaskResponse{
		ID:             rec.ID,
		Name:           rec.Name,
		Status:         string(rec.Status),
		CreatedAt:      rec.CreatedAt,
		RetryCount:     rec.RetryCount,
		MaxRetries:     rec.MaxRetries,
		TimeoutSeconds: rec.Timeout.Seconds(),
		Metadata:       rec.Metadata,
	}
	if !rec.StartedAt.IsZero() {
		started := rec.StartedAt
		resp.StartedAt = &started
	}
	if !rec.CompletedAt.IsZero() {
		completed := rec.CompletedAt
		resp.CompletedAt = &completed
	}
	if d := rec.ExecutionTime(); d > 0 {
		resp.DurationMS = d.Milliseconds()
	}
	if rec.Err != nil {
		resp.Error = rec.Err.Error()
	}
	return resp
}

// statsToResponse converts engine stats to their API shape.
func statsToResponse(s engine.Stats) StatsResponse {
	return StatsResponse{
		TotalTasks:         s.TotalTasks,
		Pending:            s.Pending,
		Running:            s.Running,
		Completed:          s.Completed,
		Failed:             s.Failed,
		Cancelled:          s.Cancelled,
		TimedOut:           s.TimedOut,
		CurrentTasks:       s.CurrentTasks,
		AvgExecutionTimeMS: float64(s.AvgExecutionTime) / float64(time.Millisecond),
		MemoryTaskCount:    s.MemoryTaskCount,
	}
}
