package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherToleratesFailures(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())
	errBoom := errors.New("boom")

	results := m.Gather(context.Background(), 2*time.Second,
		func(ctx context.Context) (any, error) { return "a", nil },
		func(ctx context.Context) (any, error) { return nil, errBoom },
		func(ctx context.Context) (any, error) { return "c", nil },
	)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Value)
	require.NoError(t, results[0].Err)

	assert.Nil(t, results[1].Value)
	assert.ErrorIs(t, results[1].Err, errBoom, "failures land in their slot without aborting the gather")

	assert.Equal(t, "c", results[2].Value)
	require.NoError(t, results[2].Err)
}

func TestGatherRecordsAdmissionAndWaitErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	cfg.MaxQueueSize = 3
	m := newStartedManager(t, cfg)

	// A parked task pins the only execution slot, so admitted work stays
	// pending and submissions past the queue bound are rejected outright.
	_, err := m.Submit(blockingTask(nil))
	require.NoError(t, err)

	results := m.Gather(context.Background(), 50*time.Millisecond,
		noopTask, noopTask, noopTask, noopTask,
	)

	require.Len(t, results, 4)
	assert.ErrorIs(t, results[0].Err, ErrWaitTimeout)
	assert.ErrorIs(t, results[1].Err, ErrWaitTimeout)
	assert.ErrorIs(t, results[2].Err, ErrQueueFull)
	assert.ErrorIs(t, results[3].Err, ErrQueueFull)
}

func TestRunWithRetries(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())
	errFlaky := errors.New("flaky")

	t.Run("budget overrides the manager default", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32
		id, err := m.RunWithRetries(func(ctx context.Context) (any, error) {
			attempts.Add(1)
			return nil, errFlaky
		}, 1)
		require.NoError(t, err)

		rec := waitForStatus(t, m, id, StatusFailed)
		assert.Equal(t, 1, rec.MaxRetries)
		assert.Equal(t, 1, rec.RetryCount)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("recovers within the budget", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32
		id, err := m.RunWithRetries(func(ctx context.Context) (any, error) {
			if attempts.Add(1) == 1 {
				return nil, errFlaky
			}
			return "recovered", nil
		}, 2)
		require.NoError(t, err)

		value, err := m.Wait(context.Background(), id, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "recovered", value)

		rec, err := m.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.RetryCount)
	})
}

func TestManagedReturnsTypedResult(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	double := Managed(m, func(ctx context.Context) (int, error) {
		return 21 * 2, nil
	}, WithName("double"))

	value, err := double(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestManagedPropagatesErrors(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())
	errBoom := errors.New("boom")

	var attempts atomic.Int32
	failing := Managed(m, func(ctx context.Context) (string, error) {
		attempts.Add(1)
		return "", errBoom
	}, WithMaxRetries(2))

	value, err := failing(context.Background())
	assert.Equal(t, errBoom, err, "the stored failure is returned verbatim")
	assert.Empty(t, value)
	assert.Equal(t, int32(3), attempts.Load(), "the retry budget still applies")
}

func TestManagedWaitIsBoundedByCallerContext(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	parked := Managed(m, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	value, err := parked(ctx)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Empty(t, value)
}

func TestManagedNilResultYieldsZeroValue(t *testing.T) {
	t.Parallel()

	m := newStartedManager(t, testConfig())

	nothing := Managed(m, func(ctx context.Context) (any, error) {
		return nil, nil
	})

	value, err := nothing(context.Background())
	require.NoError(t, err)
	assert.Nil(t, value)
}
