package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreFIFOOrdering(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background())) // take the only permit

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// stagger arrival so waiters queue in order
			time.Sleep(time.Duration(n) * 20 * time.Millisecond)
			require.NoError(t, sem.Acquire(context.Background()))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			sem.Release()
		}(i)
	}

	time.Sleep(150 * time.Millisecond) // let all 5 goroutines queue up
	sem.Release()                     // free the permit taken above

	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSemaphoreAcquireTimeout(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestSemaphoreDisposeRejectsWaiters(t *testing.T) {
	sem := NewSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	var acquireErr atomic.Value
	done := make(chan struct{})
	go func() {
		err := sem.Acquire(context.Background())
		acquireErr.Store(err)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	sem.Dispose()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire never unblocked after dispose")
	}

	err, _ := acquireErr.Load().(error)
	require.Error(t, err)
	var disposedErr *DisposedError
	assert.ErrorAs(t, err, &disposedErr)

	assert.True(t, sem.Metrics().Disposed)
}
