package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// attemptResult carries one attempt's outcome out of the work goroutine.
type attemptResult struct {
	value any
	err   error
}

// runTask drives a single task from admission to a terminal state. It
// blocks on the semaphore until an execution slot frees, then runs
// attempts under the per-attempt timeout, retrying failures within the
// record's budget.
func (m *Manager) runTask(st *taskState) {
	defer m.wg.Done()
	defer st.cancel()

	if err := m.sem.Acquire(st.ctx, 1); err != nil {
		// Cancelled while queued
		m.finish(st, StatusCancelled, nil,
			fmt.Errorf("%w: cancelled while queued", ErrTaskCancelled))
		return
	}
	defer m.sem.Release(1)

	if m.limiter != nil {
		if err := m.limiter.Wait(st.ctx); err != nil {
			m.finish(st, StatusCancelled, nil,
				fmt.Errorf("%w: cancelled while queued", ErrTaskCancelled))
			return
		}
	}

	if !m.markRunning(st) {
		// Already terminal, nothing left to run
		return
	}

	strategy := m.newBackoff()

	for {
		result, err := m.runAttempt(st)
		if err == nil {
			m.finish(st, StatusCompleted, result, nil)
			return
		}

		if errors.Is(err, ErrTaskCancelled) {
			m.finish(st, StatusCancelled, nil, err)
			return
		}
		if errors.Is(err, ErrTaskTimedOut) {
			// Timed out attempts are terminal, never retried
			m.finish(st, StatusTimedOut, nil, err)
			return
		}

		attempt, ok := m.scheduleRetry(st)
		if !ok {
			m.finish(st, StatusFailed, nil, err)
			return
		}

		delay := strategy.NextDelay(attempt, err)
		m.emit(Event{
			Type:    EventRetried,
			Record:  m.snapshotOf(st),
			Attempt: attempt,
			Delay:   delay,
			At:      time.Now(),
		})
		m.logger.Debug("task retrying",
			"task_id", st.ID, "task_name", st.Name,
			"retry_count", attempt, "delay", delay, "error", err)

		if !sleepCtx(st.ctx, delay) {
			m.finish(st, StatusCancelled, nil,
				fmt.Errorf("%w: cancelled during retry backoff", ErrTaskCancelled))
			return
		}
	}
}

// runAttempt executes one attempt under the per-attempt timeout. The body
// runs in its own goroutine; on deadline or cancellation the attempt is
// abandoned and the goroutine's eventual outcome discarded. Panics inside
// the body are recovered into errors carrying the panic value and stack.
func (m *Manager) runAttempt(st *taskState) (any, error) {
	if st.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, st.ctx.Err())
	}

	attemptCtx, cancel := context.WithTimeout(st.ctx, st.Timeout)
	defer cancel()

	resCh := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- attemptResult{
					err: fmt.Errorf("task panicked: %v\n%s", r, debug.Stack()),
				}
			}
		}()
		value, err := st.work(attemptCtx)
		resCh <- attemptResult{value: value, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil &&
			(errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded)) {
			// The body surfaced its context closing; classify by cause.
			if st.ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, res.err)
			}
			if attemptCtx.Err() != nil {
				return nil, fmt.Errorf("%w: attempt exceeded %s", ErrTaskTimedOut, st.Timeout)
			}
		}
		return res.value, res.err

	case <-attemptCtx.Done():
		if st.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, st.ctx.Err())
		}
		return nil, fmt.Errorf("%w: attempt exceeded %s", ErrTaskTimedOut, st.Timeout)
	}
}

// markRunning transitions Pending to Running and stamps StartedAt. It
// reports false when the record was already terminal, which happens when
// the task is force-cancelled while waiting for a slot.
func (m *Manager) markRunning(st *taskState) bool {
	now := time.Now()

	m.mu.Lock()
	if st.Status != StatusPending {
		m.mu.Unlock()
		return false
	}
	st.Status = StatusRunning
	st.StartedAt = now
	m.counters.pending--
	m.counters.running++
	rec := st.snapshot()
	m.mu.Unlock()

	m.emit(Event{Type: EventStarted, Record: rec, From: StatusPending, At: now})
	m.logger.Debug("task started", "task_id", rec.ID, "task_name", rec.Name)
	return true
}

// scheduleRetry increments the retry count when budget remains. It
// returns the new attempt number, or false when retries are exhausted or
// the record is no longer running.
func (m *Manager) scheduleRetry(st *taskState) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.Status != StatusRunning || st.RetryCount >= st.MaxRetries {
		return 0, false
	}
	st.RetryCount++
	return st.RetryCount, true
}

// sleepCtx pauses for d unless ctx is done first. It reports whether the
// full pause elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
