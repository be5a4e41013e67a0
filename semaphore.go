package runner

import (
	"context"
	"sync"
)

// SemaphoreMetrics is a point-in-time snapshot of a Semaphore's state.
type SemaphoreMetrics struct {
	AvailablePermits int
	MaxPermits       int
	WaitingCount     int
	Utilization      float64
	Disposed         bool
}

type semWaiter struct {
	ready chan struct{}
	done  bool
}

// Semaphore is a counting permit pool with strict FIFO waiter ordering,
// adapted from the teacher's pool_manager.go sizing logic but rebuilt around
// a waiter queue instead of a buffered channel, since FIFO fairness (no
// barging) cannot be guaranteed by a plain buffered-channel semaphore.
type Semaphore struct {
	mu        sync.Mutex
	max       int
	available int
	waiters   []*semWaiter
	disposed  bool
}

// NewSemaphore creates a semaphore with max ≥ 1 permits, all initially free.
func NewSemaphore(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{max: max, available: max}
}

// Acquire blocks until a permit is available, ctx is done, or the semaphore
// is disposed. If no permit is free, a ctx whose deadline has already passed
// (e.g. WithTimeout(0)) fails immediately with TimeoutError, and a cancelled
// ctx fails with ctx.Err().
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return &DisposedError{frameworkError: newFrameworkError(), Component: "semaphore"}
	}
	if s.available > 0 && len(s.waiters) == 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}
	w := &semWaiter{ready: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		s.mu.Lock()
		disposed := s.disposed
		s.mu.Unlock()
		if disposed {
			return &DisposedError{frameworkError: newFrameworkError(), Component: "semaphore"}
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, other := range s.waiters {
			if other == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{frameworkError: newFrameworkError(), Operation: "semaphore.acquire"}
		}
		return ctx.Err()
	}
}

// Release returns a permit to the pool, waking the head waiter (if any).
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w.ready)
		return
	}
	if s.available < s.max {
		s.available++
	}
}

// WithPermit acquires a permit, runs fn, and releases the permit in every
// path including a panic recovered and re-thrown by the caller's defer.
func (s *Semaphore) WithPermit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := s.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.Release()
	return fn(ctx)
}

// Dispose rejects every outstanding waiter with DisposedError; subsequent
// Acquire calls fail immediately.
func (s *Semaphore) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	for _, w := range s.waiters {
		close(w.ready)
	}
	s.waiters = nil
}

// Metrics returns a snapshot of the semaphore's current state.
func (s *Semaphore) Metrics() SemaphoreMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	util := float64(s.max-s.available) / float64(s.max)
	return SemaphoreMetrics{
		AvailablePermits: s.available,
		MaxPermits:       s.max,
		WaitingCount:     len(s.waiters),
		Utilization:      util,
		Disposed:         s.disposed,
	}
}
