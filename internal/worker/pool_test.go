package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBatchPreservesOrder(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	items := []int{5, 3, 8, 1, 9, 2}
	results, err := ProcessBatch(context.Background(), p, items, 0, func(_ context.Context, n int) (int, error) {
		// Later items finish first; order must still follow input.
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	require.NoError(t, err)
	require.Len(t, results, len(items))

	for i, n := range items {
		require.NoError(t, results[i].Err)
		assert.Equal(t, n*10, results[i].Value)
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	boom := errors.New("boom")
	items := []int{1, 2, 3, 4, 5}
	results, err := ProcessBatch(context.Background(), p, items, 0, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 2, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.ErrorIs(t, results[1].Err, boom)
	for _, i := range []int{0, 2, 3, 4} {
		require.NoError(t, results[i].Err)
		assert.Equal(t, items[i]*2, results[i].Value)
	}
}

func TestProcessBatchCapturesPanics(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	results, err := ProcessBatch(context.Background(), p, []int{1, 2, 3}, 0, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("unexpected state")
		}
		return n, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "panicked")
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)
}

func TestProcessBatchTimeout(t *testing.T) {
	p := NewWithConfig(Config{Workers: 2, QueueSize: 10})
	blocker := make(chan struct{})
	defer func() {
		close(blocker)
		_ = p.Shutdown(time.Second)
	}()

	items := []int{0, 1, 2, 3}
	results, err := ProcessBatch(context.Background(), p, items, 50*time.Millisecond, func(_ context.Context, n int) (int, error) {
		if n == 0 {
			return 100, nil
		}
		<-blocker
		return n, nil
	})
	require.NoError(t, err, "timeout must not surface as a batch error")
	require.Len(t, results, 4, "batch size is preserved on timeout")

	require.NoError(t, results[0].Err)
	assert.Equal(t, 100, results[0].Value)
	for _, i := range []int{1, 2, 3} {
		assert.ErrorIs(t, results[i].Err, ErrTimedOut)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	results, err := ProcessBatch(context.Background(), p, []int{}, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCallerRunsBackpressure(t *testing.T) {
	// One worker and a one-slot queue: a batch of 16 can only complete if
	// overflow runs on the submitting goroutine.
	p := NewWithConfig(Config{Workers: 1, QueueSize: 1})
	defer func() { _ = p.Shutdown(time.Second) }()

	var peak, current atomic.Int64
	items := make([]int, 16)
	for i := range items {
		items[i] = i
	}

	results, err := ProcessBatch(context.Background(), p, items, 0, func(_ context.Context, n int) (int, error) {
		c := current.Add(1)
		for {
			old := peak.Load()
			if c <= old || peak.CompareAndSwap(old, c) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		current.Add(-1)
		return n, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 16)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Value)
	}

	// At most the worker plus the submitting goroutine run concurrently.
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, int64(16), p.Status().CompletedTasks)
}

func TestProcessWithRateLimitThrottles(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	items := []int{1, 2, 3, 4}
	start := time.Now()
	results, err := ProcessWithRateLimit(context.Background(), p, items, 100, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, items[i], r.Value)
	}
	// Three inter-dispatch gaps at 100/sec is at least 30ms; allow slack
	// for coarse timers.
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestProcessWithRateLimitCanceled(t *testing.T) {
	p := New()
	defer func() { _ = p.Shutdown(time.Second) }()

	ctx, cancel := context.WithCancel(context.Background())
	items := make([]int, 50)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results, err := ProcessWithRateLimit(ctx, p, items, 10, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 50, "undispatched items still get placeholders")

	var canceled int
	for _, r := range results {
		if r.Err != nil && errors.Is(r.Err, context.Canceled) {
			canceled++
		}
	}
	assert.Positive(t, canceled)
}

func TestShutdownRejectsNewBatches(t *testing.T) {
	p := New()
	require.NoError(t, p.Shutdown(time.Second))

	_, err := ProcessBatch(context.Background(), p, []int{1}, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.Error(t, err)

	results, err := ProcessBatch(context.Background(), p, []int{1, 2}, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if err == nil {
		// Submission failures may also surface as per-item placeholders.
		for _, r := range results {
			assert.ErrorIs(t, r.Err, ErrShuttingDown)
		}
	}

	assert.False(t, p.Healthy())
	assert.False(t, p.Status().Running)
}

func TestShutdownDrainsInFlightWork(t *testing.T) {
	p := NewWithConfig(Config{Workers: 2, QueueSize: 10})

	var completed atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ProcessBatch(context.Background(), p, []int{1, 2, 3, 4}, 0, func(_ context.Context, n int) (int, error) {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return n, nil
		})
	}()

	// Give the batch a moment to enqueue before shutting down.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.Shutdown(2*time.Second))
	<-done

	assert.Equal(t, int64(4), completed.Load(), "in-flight work drains before shutdown returns")
}

func TestShutdownTimeout(t *testing.T) {
	p := NewWithConfig(Config{Workers: 1, QueueSize: 10})
	blocker := make(chan struct{})
	defer close(blocker)

	go func() {
		_, _ = ProcessBatch(context.Background(), p, []int{1}, 0, func(_ context.Context, n int) (int, error) {
			<-blocker
			return n, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	err := p.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
}

func TestShutdownIdempotent(t *testing.T) {
	p := New()
	require.NoError(t, p.Shutdown(time.Second))
	require.NoError(t, p.Shutdown(time.Second))
}

func TestStatusDuringProcessing(t *testing.T) {
	p := NewWithConfig(Config{Workers: 2, QueueSize: 10})
	blocker := make(chan struct{})
	defer func() {
		close(blocker)
		_ = p.Shutdown(time.Second)
	}()

	go func() {
		_, _ = ProcessBatch(context.Background(), p, []int{1, 2}, 0, func(_ context.Context, n int) (int, error) {
			<-blocker
			return n, nil
		})
	}()

	require.Eventually(t, func() bool {
		return p.Status().ActiveOperations == 2
	}, time.Second, 5*time.Millisecond)

	st := p.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.PoolSize)
}

func TestResourceScopeWrapsEveryTask(t *testing.T) {
	var scoped atomic.Int64
	p := NewWithConfig(Config{
		Workers:   2,
		QueueSize: 10,
		Scope: func(run func()) {
			scoped.Add(1)
			run()
		},
	})
	defer func() { _ = p.Shutdown(time.Second) }()

	items := []int{1, 2, 3, 4, 5}
	results, err := ProcessBatch(context.Background(), p, items, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, int64(5), scoped.Load())
}

func TestNilPool(t *testing.T) {
	_, err := ProcessBatch(context.Background(), nil, []int{1}, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestProcessBatchLargeBatch(t *testing.T) {
	p := NewWithConfig(Config{Workers: 8, QueueSize: 32})
	defer func() { _ = p.Shutdown(time.Second) }()

	items := make([]int, 500)
	for i := range items {
		items[i] = i
	}
	results, err := ProcessBatch(context.Background(), p, items, 0, func(_ context.Context, n int) (string, error) {
		return fmt.Sprintf("item-%d", n), nil
	})
	require.NoError(t, err)
	require.Len(t, results, 500)
	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, fmt.Sprintf("item-%d", i), r.Value)
	}
}
