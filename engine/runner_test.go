package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/phrazzld/taskengine/engine/backoff"
)

// recordingStrategy captures the attempt numbers the runner asks delays
// for, returning a fixed short delay.
type recordingStrategy struct {
	mu       sync.Mutex
	attempts []int
	delay    time.Duration
}

func (r *recordingStrategy) NextDelay(attempt int, _ error) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return r.delay
}

func (r *recordingStrategy) Reset() {}

func (r *recordingStrategy) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func TestRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	// Fail twice, succeed on the third attempt
	var attempts int64
	id, err := m.Submit(func(ctx context.Context) (any, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return nil, errors.New("transient failure")
		}
		return "done", nil
	}, WithMaxRetries(3))
	require.NoError(t, err)

	value, err := m.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", value)

	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.RetryCount, "two retries beyond the first attempt")
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	errBoom := errors.New("boom")
	var attempts int64
	id, err := m.Submit(func(ctx context.Context) (any, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, errBoom
	}, WithMaxRetries(2))
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), id, 2*time.Second)
	require.Error(t, err)
	assert.Equal(t, errBoom, err, "the original failure is re-raised verbatim")

	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts), "initial attempt plus two retries")
}

func TestTimeoutIsTerminal(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	// The retry budget is generous on purpose: timed out tasks must not
	// use it.
	var attempts int64
	id, err := m.Submit(func(ctx context.Context) (any, error) {
		atomic.AddInt64(&attempts, 1)
		select {
		case <-time.After(500 * time.Millisecond):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, WithTimeout(30*time.Millisecond), WithMaxRetries(5))
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), id, 2*time.Second)
	assert.ErrorIs(t, err, ErrTaskTimedOut)

	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "a timed out task is never retried")
}

func TestNonCooperativeBodyIsAbandoned(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	bodyDone := make(chan struct{})
	id, err := m.Submit(func(ctx context.Context) (any, error) {
		// Ignores ctx on purpose
		time.Sleep(150 * time.Millisecond)
		close(bodyDone)
		return "late result", nil
	}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Wait(context.Background(), id, 2*time.Second)
	assert.ErrorIs(t, err, ErrTaskTimedOut)
	assert.Less(t, time.Since(start), 150*time.Millisecond,
		"the record must turn terminal without waiting for the stubborn body")

	select {
	case <-bodyDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the abandoned body to finish")
	}

	// The late completion must not resurrect the record
	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestPanicsAreRecoveredAsFailures(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	var attempts int64
	id, err := m.Submit(func(ctx context.Context) (any, error) {
		atomic.AddInt64(&attempts, 1)
		panic("kaboom")
	}, WithMaxRetries(1))
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), id, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panicked")
	assert.Contains(t, err.Error(), "kaboom")

	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount, "a panicking task still gets its retries")
	assert.Equal(t, int64(2), atomic.LoadInt64(&attempts))
}

func TestBackoffReceivesAttemptNumbers(t *testing.T) {
	t.Parallel()

	strategy := &recordingStrategy{delay: time.Millisecond}
	m := newStartedManager(t, testConfig(),
		WithBackoff(func() backoff.Strategy { return strategy }))

	id, err := m.Submit(func(ctx context.Context) (any, error) {
		return nil, errors.New("always fails")
	}, WithMaxRetries(3))
	require.NoError(t, err)

	_, err = m.Wait(context.Background(), id, 2*time.Second)
	require.Error(t, err)

	assert.Equal(t, []int{1, 2, 3}, strategy.seen())
}

func TestCancelDuringBackoffSleep(t *testing.T) {
	t.Parallel()

	// A very long backoff keeps the task parked between attempts
	m := newStartedManager(t, testConfig(),
		WithBackoff(func() backoff.Strategy {
			return backoff.NewLinear(10*time.Second, 0)
		}))

	id, err := m.Submit(func(ctx context.Context) (any, error) {
		return nil, errors.New("always fails")
	}, WithMaxRetries(3))
	require.NoError(t, err)

	// Wait until the runner has scheduled the first retry
	deadline := time.After(2 * time.Second)
	for {
		rec, err := m.GetStatus(id)
		require.NoError(t, err)
		if rec.RetryCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the first retry")
		case <-time.After(2 * time.Millisecond):
		}
	}

	require.True(t, m.Cancel(id))

	_, err = m.Wait(context.Background(), id, 2*time.Second)
	assert.ErrorIs(t, err, ErrTaskCancelled)

	rec, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestDispatchRateLimitThrottlesStarts(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig(),
		WithDispatchRateLimit(rate.Every(40*time.Millisecond), 1))

	start := time.Now()
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := m.Submit(noopTask)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := m.Wait(context.Background(), id, 2*time.Second)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond,
		"three dispatches through a 40ms limiter need at least two full intervals")
}

func TestBodyContextCarriesDeadline(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	id, err := m.Submit(func(ctx context.Context) (any, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return nil, errors.New("expected a deadline on the attempt context")
		}
		return time.Until(deadline) > 0, nil
	}, WithTimeout(time.Second))
	require.NoError(t, err)

	value, err := m.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, value)
}
