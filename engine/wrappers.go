package engine

import (
	"context"
	"time"
)

// Result pairs one task's outcome with its error for tolerant gathering.
type Result struct {
	Value any
	Err   error
}

// Gather submits every unit of work and waits for all of them, tolerating
// individual failures. The returned slice matches the input order; each
// slot holds the task's value or its error, including admission errors
// for work the queue rejected. A timeout greater than zero bounds the
// whole gather.
func (m *Manager) Gather(ctx context.Context, timeout time.Duration, works ...Task) []Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ids := make([]string, len(works))
	results := make([]Result, len(works))
	for i, work := range works {
		id, err := m.Submit(work)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		ids[i] = id
	}

	for i, id := range ids {
		if id == "" {
			continue
		}
		value, err := m.Wait(ctx, id, 0)
		results[i] = Result{Value: value, Err: err}
	}
	return results
}

// RunWithRetries submits a unit of work with an explicit retry budget and
// returns its id without waiting. Shorthand for Submit with
// WithMaxRetries.
func (m *Manager) RunWithRetries(work Task, maxRetries int, opts ...SubmitOption) (string, error) {
	return m.Submit(work, append(opts, WithMaxRetries(maxRetries))...)
}

// Managed wraps a typed function so it runs through the Manager. The
// returned function has the same shape as work: calling it submits the
// work with the given options, waits for the terminal state, and returns
// the typed result or the failure. The ctx passed to the returned
// function bounds the wait; the engine supplies the work's own context.
func Managed[R any](m *Manager, work func(ctx context.Context) (R, error), opts ...SubmitOption) func(ctx context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		var zero R

		id, err := m.Submit(func(taskCtx context.Context) (any, error) {
			value, err := work(taskCtx)
			return value, err
		}, opts...)
		if err != nil {
			return zero, err
		}

		value, err := m.Wait(ctx, id, 0)
		if err != nil {
			return zero, err
		}
		if value == nil {
			return zero, nil
		}
		typed, _ := value.(R)
		return typed, nil
	}
}
