package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsSequentially(t *testing.T) {
	q := NewQueue()
	defer q.Dispose(false)

	var order []int
	done := make(chan struct{})
	n := 5
	results := make(chan int, n)
	var active atomic.Int32
	var overlapped atomic.Bool

	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
				if active.Add(1) > 1 {
					overlapped.Store(true)
				}
				defer active.Add(-1)
				time.Sleep(5 * time.Millisecond)
				return i, nil
			})
			require.NoError(t, err)
			results <- i
		}(i)
	}

	go func() {
		for i := 0; i < n; i++ {
			order = append(order, <-results)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}
	assert.Len(t, order, n)
	assert.False(t, overlapped.Load(), "no two queued tasks may run at the same time")
}

func TestQueueSelfReentryIsDeadlockError(t *testing.T) {
	q := NewQueue()
	defer q.Dispose(false)

	_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
		return q.Run(ctx, func(ctx context.Context) (any, error) {
			return nil, nil
		})
	})

	require.Error(t, err)
	var deadlockErr *DeadlockError
	assert.ErrorAs(t, err, &deadlockErr)
}

func TestQueueDisposeRejectsFurtherRuns(t *testing.T) {
	q := NewQueue()
	q.Dispose(false)

	_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
	var disposedErr *DisposedError
	assert.ErrorAs(t, err, &disposedErr)
}

func TestQueueEmitsLifecycleEvents(t *testing.T) {
	q := NewQueue()
	defer q.Dispose(false)

	var kinds []QueueEventKind
	q.OnEvent(func(evt QueueEvent) { kinds = append(kinds, evt.Kind) })

	_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Contains(t, kinds, QueueEventEnqueue)
	assert.Contains(t, kinds, QueueEventStart)
	assert.Contains(t, kinds, QueueEventFinish)
}
