package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/phrazzld/taskengine/engine/backoff"
)

// Manager owns the task record store, admission control, runner
// goroutines, and the cleanup sweeper. Construct one with NewManager,
// Start it, and Stop it on shutdown. All methods are safe for concurrent
// use.
type Manager struct {
	config     Config
	logger     *slog.Logger
	handlers   []Handler
	newBackoff func() backoff.Strategy
	limiter    *rate.Limiter

	// sem bounds how many tasks execute at once. Its FIFO waiter queue
	// preserves submission order at dispatch.
	sem *semaphore.Weighted

	mu       sync.RWMutex
	tasks    map[string]*taskState
	counters counters
	started  bool
	stopped  bool

	// ctx is the parent of every task context; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// counters tracks per-status totals under the Manager's mutex. Together
// they satisfy total == completed + failed + cancelled + timedOut +
// pending + running at every observation.
type counters struct {
	total     int64
	pending   int64
	running   int64
	completed int64
	failed    int64
	cancelled int64
	timedOut  int64

	// execTime accumulates wall time of completed tasks for the average.
	execTime time.Duration
}

// Stats is a point-in-time summary of a Manager's workload.
type Stats struct {
	TotalTasks int64
	Pending    int64
	Running    int64
	Completed  int64
	Failed     int64
	Cancelled  int64
	TimedOut   int64

	// CurrentTasks is the outstanding count, pending plus running.
	CurrentTasks int64

	// AvgExecutionTime averages wall time across completed tasks.
	AvgExecutionTime time.Duration

	// MemoryTaskCount is how many records are held in memory, including
	// terminal ones the sweeper has not reclaimed yet.
	MemoryTaskCount int
}

// NewManager creates a Manager with the given configuration. Zero config
// fields fall back to DefaultConfig values.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		config: cfg,
		logger: slog.Default(),
		tasks:  make(map[string]*taskState),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.newBackoff == nil {
		m.newBackoff = func() backoff.Strategy {
			return backoff.NewLinear(cfg.RetryBaseDelay, cfg.RetryMaxDelay)
		}
	}

	m.logger = m.logger.With("component", "task_manager")
	return m
}

// Start begins accepting submissions and launches the cleanup sweeper.
// Calling Start on a running Manager is a no-op; a stopped Manager
// cannot be restarted.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.started = true

	m.wg.Add(1)
	go m.sweep()

	m.logger.Info("task manager started",
		"max_concurrent_tasks", m.config.MaxConcurrentTasks,
		"max_queue_size", m.config.MaxQueueSize)
	return nil
}

// Submit admits a unit of work. It either inserts a Pending record and
// returns its id, or fails fast: ErrQueueFull when the outstanding count
// has reached MaxQueueSize, ErrNotStarted/ErrStopped on lifecycle misuse.
// The record is queryable by the time Submit returns.
func (m *Manager) Submit(work Task, opts ...SubmitOption) (string, error) {
	if work == nil {
		return "", ErrNilTask
	}
	so := newSubmitOptions(opts)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrStopped
	}
	if !m.started {
		m.mu.Unlock()
		return "", ErrNotStarted
	}

	outstanding := m.counters.pending + m.counters.running
	if outstanding >= int64(m.config.MaxQueueSize) {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %d tasks outstanding (limit %d)",
			ErrQueueFull, outstanding, m.config.MaxQueueSize)
	}

	id := uuid.NewString()
	name := so.name
	if name == "" {
		name = "task-" + id[:8]
	}
	timeout := so.timeout
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}
	maxRetries := so.maxRetries
	if maxRetries < 0 {
		maxRetries = m.config.DefaultMaxRetries
	}

	ctx, cancel := context.WithCancel(m.ctx)
	st := &taskState{
		TaskRecord: TaskRecord{
			ID:         id,
			Name:       name,
			Status:     StatusPending,
			CreatedAt:  time.Now(),
			MaxRetries: maxRetries,
			Timeout:    timeout,
			Metadata:   maps.Clone(so.metadata),
		},
		work:   work,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.tasks[id] = st
	m.counters.total++
	m.counters.pending++
	rec := st.snapshot()

	m.wg.Add(1)
	m.mu.Unlock()

	// Emit before the runner launches so handlers observe submitted
	// strictly ahead of any runner-side event for the same task.
	m.emit(Event{Type: EventSubmitted, Record: rec, At: rec.CreatedAt})
	m.logger.Debug("task submitted", "task_id", id, "task_name", name)

	go m.runTask(st)
	return id, nil
}

// Wait blocks until the task reaches a terminal state, the given timeout
// elapses, or ctx is done. A timeout of zero means no budget. On
// Completed it returns the task's result; otherwise the stored failure:
// the task's own error verbatim on Failed, an error wrapping
// ErrTaskTimedOut or ErrTaskCancelled on the other terminal states.
// Deadline-driven aborts of the wait itself wrap ErrWaitTimeout.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (any, error) {
	m.mu.RLock()
	st, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	var budget <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		budget = timer.C
	}

	select {
	case <-st.done:
	case <-budget:
		return nil, fmt.Errorf("%w: task %s still %s after %s",
			ErrWaitTimeout, id, m.statusOf(st), timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrWaitTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}

	m.mu.RLock()
	rec := st.snapshot()
	m.mu.RUnlock()

	if rec.Status == StatusCompleted {
		return rec.Result, nil
	}
	return nil, rec.Err
}

// GetStatus returns a snapshot of the task's record, or ErrTaskNotFound
// when the id is unknown or already reclaimed.
func (m *Manager) GetStatus(id string) (TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.tasks[id]
	if !ok {
		return TaskRecord{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return st.snapshot(), nil
}

// Cancel requests cooperative cancellation. It returns true when the task
// was still pending or running at the time of the call; the record
// transitions to Cancelled as soon as the runner observes the signal. It
// returns false for unknown or already terminal tasks.
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	st, ok := m.tasks[id]
	terminal := ok && st.Status.Terminal()
	m.mu.RUnlock()

	if !ok || terminal {
		return false
	}

	m.logger.Debug("task cancellation requested", "task_id", id)
	st.cancel()
	return true
}

// GetStats returns a point-in-time summary of the workload.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		TotalTasks:      m.counters.total,
		Pending:         m.counters.pending,
		Running:         m.counters.running,
		Completed:       m.counters.completed,
		Failed:          m.counters.failed,
		Cancelled:       m.counters.cancelled,
		TimedOut:        m.counters.timedOut,
		CurrentTasks:    m.counters.pending + m.counters.running,
		MemoryTaskCount: len(m.tasks),
	}
	if m.counters.completed > 0 {
		s.AvgExecutionTime = m.counters.execTime / time.Duration(m.counters.completed)
	}
	return s
}

// Stop shuts the Manager down: admissions stop, every non-terminal task
// is cancelled, and Stop waits up to timeout for runners to acknowledge.
// Tasks that do not acknowledge in time are force-marked Cancelled and
// logged; Stop always returns within its budget. Stop is idempotent and
// a no-op on a Manager that was never started.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info("task manager stopping", "timeout", timeout)
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		forced := m.forceCancelRemaining()
		m.logger.Warn("tasks did not acknowledge cancellation within budget",
			"forced", forced, "timeout", timeout)
	}

	stats := m.GetStats()
	m.logger.Info("task manager stopped",
		"total_tasks", stats.TotalTasks, "cancelled", stats.Cancelled)
}

// NewBatch creates an empty batch bound to this Manager.
func (m *Manager) NewBatch() *Batch {
	return &Batch{manager: m}
}

// statusOf reads a task's current status under the lock.
func (m *Manager) statusOf(st *taskState) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return st.Status
}

// snapshotOf copies a task's record under the lock.
func (m *Manager) snapshotOf(st *taskState) TaskRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return st.snapshot()
}

// forceCancelRemaining marks every non-terminal record Cancelled. Called
// only after the stop deadline; runners that finish later find the record
// already terminal and leave it alone.
func (m *Manager) forceCancelRemaining() int {
	now := time.Now()
	err := fmt.Errorf("%w: task manager stopped", ErrTaskCancelled)

	var events []Event
	m.mu.Lock()
	for _, st := range m.tasks {
		if from, ok := m.finishLocked(st, StatusCancelled, nil, err, now); ok {
			events = append(events, Event{
				Type:   EventCancelled,
				Record: st.snapshot(),
				From:   from,
				At:     now,
			})
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
	return len(events)
}

// finishLocked applies a terminal transition. It returns the prior status
// and false when the record was already terminal. Callers must hold the
// write lock.
func (m *Manager) finishLocked(st *taskState, status Status, result any, err error, now time.Time) (Status, bool) {
	if st.Status.Terminal() {
		return st.Status, false
	}

	from := st.Status
	switch from {
	case StatusPending:
		m.counters.pending--
	case StatusRunning:
		m.counters.running--
	}

	st.Status = status
	st.CompletedAt = now

	switch status {
	case StatusCompleted:
		st.Result = result
		m.counters.completed++
		if !st.StartedAt.IsZero() {
			m.counters.execTime += now.Sub(st.StartedAt)
		}
	case StatusFailed:
		st.Err = err
		m.counters.failed++
	case StatusTimedOut:
		st.Err = err
		m.counters.timedOut++
	case StatusCancelled:
		st.Err = err
		m.counters.cancelled++
	}

	close(st.done)
	return from, true
}

// finish applies a terminal transition under the lock, then emits the
// lifecycle event and log line outside it.
func (m *Manager) finish(st *taskState, status Status, result any, err error) {
	now := time.Now()

	m.mu.Lock()
	from, ok := m.finishLocked(st, status, result, err, now)
	if !ok {
		m.mu.Unlock()
		return
	}
	rec := st.snapshot()
	m.mu.Unlock()

	m.emit(Event{Type: terminalEventType(status), Record: rec, From: from, At: now})

	switch status {
	case StatusCompleted:
		m.logger.Debug("task completed",
			"task_id", rec.ID, "task_name", rec.Name, "retry_count", rec.RetryCount)
	case StatusFailed:
		m.logger.Warn("task failed",
			"task_id", rec.ID, "task_name", rec.Name, "retry_count", rec.RetryCount, "error", err)
	case StatusTimedOut:
		m.logger.Warn("task timed out",
			"task_id", rec.ID, "task_name", rec.Name, "timeout", rec.Timeout)
	case StatusCancelled:
		m.logger.Debug("task cancelled",
			"task_id", rec.ID, "task_name", rec.Name, "was", from)
	}
}
