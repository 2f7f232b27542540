package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Batch groups submissions to one Manager so they can be awaited in
// submission order and cancelled together. Create one with
// Manager.NewBatch; safe for concurrent use.
type Batch struct {
	manager *Manager

	mu  sync.Mutex
	ids []string
}

// Submit admits a unit of work exactly like Manager.Submit and records
// its id in the batch. Rejected submissions are not recorded.
func (b *Batch) Submit(work Task, opts ...SubmitOption) (string, error) {
	id, err := b.manager.Submit(work, opts...)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.ids = append(b.ids, id)
	b.mu.Unlock()
	return id, nil
}

// IDs returns the batch's task ids in submission order.
func (b *Batch) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.ids)
}

// Len returns how many tasks the batch has admitted.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// WaitAll blocks until every task in the batch finishes and returns their
// results in submission order. A timeout greater than zero bounds the
// whole wait. The first failure aborts the wait and is returned wrapped
// with the failing task's id; remaining tasks keep running unless the
// caller cancels them.
func (b *Batch) WaitAll(ctx context.Context, timeout time.Duration) ([]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ids := b.IDs()
	results := make([]any, 0, len(ids))
	for _, id := range ids {
		value, err := b.manager.Wait(ctx, id, 0)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		results = append(results, value)
	}
	return results, nil
}

// CancelRemaining cancels every task in the batch that has not reached a
// terminal state and returns how many cancellations were accepted.
func (b *Batch) CancelRemaining() int {
	cancelled := 0
	for _, id := range b.IDs() {
		if b.manager.Cancel(id) {
			cancelled++
		}
	}
	return cancelled
}

// BatchFn is a function that runs within a batch scope. It receives the
// context and the batch; returning an error cancels every task the batch
// still has in flight.
type BatchFn func(ctx context.Context, b *Batch) error

// RunBatch executes fn within a batch scope. When fn returns an error or
// panics, every non-terminal task in the batch is cancelled before the
// error or panic propagates, so no orphaned work survives a failed scope.
func (m *Manager) RunBatch(ctx context.Context, fn BatchFn) (err error) {
	b := m.NewBatch()

	defer func() {
		if p := recover(); p != nil {
			cancelled := b.CancelRemaining()
			m.logger.Error("batch scope panicked",
				"cancelled", cancelled, "panic", p)
			// ALLOW-PANIC: Propagating caught panic from batch scope
			panic(p)
		}
		if err != nil {
			cancelled := b.CancelRemaining()
			m.logger.Debug("batch scope failed, cancelled remaining tasks",
				"cancelled", cancelled, "error", err)
		}
	}()

	return fn(ctx, b)
}
