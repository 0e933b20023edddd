package core

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// noCopy makes go vet's copylocks check flag copies of the embedding type.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Mutex is a binary lock for tasks. Waiters are woken in FIFO order. A
// Take that times out or whose context ends leaves no trace on the lock.
// It must not be copied after first use.
type Mutex struct {
	noCopy noCopy

	sys  *System
	sem  *semaphore.Weighted
	held atomic.Bool
}

// NewMutex returns an unlocked mutex whose timeouts run on sys's clock.
func NewMutex(sys *System) *Mutex {
	return &Mutex{sys: sys, sem: semaphore.NewWeighted(1)}
}

// Take waits up to timeoutMs for the mutex and reports whether it was
// acquired. Infinite waits until ctx ends; zero only tries.
func (m *Mutex) Take(ctx context.Context, timeoutMs uint32) bool {
	if take(ctx, m.sys, m.sem, timeoutMs) != nil {
		return false
	}
	m.held.Store(true)
	return true
}

// Give releases the mutex, waking the longest waiter. Giving a free mutex
// does nothing. It reports whether the mutex can now be taken.
func (m *Mutex) Give() bool {
	if m.held.CompareAndSwap(true, false) {
		m.sem.Release(1)
	}
	return true
}

// Lock takes the mutex without a timeout.
func (m *Mutex) Lock(ctx context.Context) bool {
	return m.Take(ctx, Infinite)
}

// Unlock is Give.
func (m *Mutex) Unlock() {
	m.Give()
}

// Held reports whether some task holds the mutex.
func (m *Mutex) Held() bool {
	return m.held.Load()
}

// TakeErr is Take returning ErrTimeout or the context error on failure,
// for callers that propagate errors rather than test a flag.
func (m *Mutex) TakeErr(ctx context.Context, timeoutMs uint32) error {
	if err := take(ctx, m.sys, m.sem, timeoutMs); err != nil {
		return err
	}
	m.held.Store(true)
	return nil
}

func take(ctx context.Context, sys *System, sem *semaphore.Weighted, timeoutMs uint32) error {
	if sem.TryAcquire(1) {
		return nil
	}
	if timeoutMs == 0 {
		return ErrTimeout
	}

	wctx := ctx
	if timeoutMs != Infinite {
		var cancel context.CancelFunc
		wctx, cancel = sys.clk.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}
	defer sys.block(ctx)()
	if err := sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sys.Resume(ctx)
		return ErrTimeout
	}
	sys.Resume(ctx)
	return nil
}

// Guard holds a mutex for a scope:
//
//	g := core.NewGuard(ctx, m)
//	defer g.Release()
type Guard struct {
	noCopy noCopy

	m        *Mutex
	released atomic.Bool
	ok       bool
}

// NewGuard takes m with an infinite timeout. If ctx ends first the guard
// holds nothing; check Held.
func NewGuard(ctx context.Context, m *Mutex) *Guard {
	return &Guard{m: m, ok: m.Take(ctx, Infinite)}
}

// Held reports whether the guard acquired its mutex.
func (g *Guard) Held() bool {
	return g.ok && !g.released.Load()
}

// Release gives the mutex back. Only the first call has any effect.
func (g *Guard) Release() {
	if g.ok && g.released.CompareAndSwap(false, true) {
		g.m.Give()
	}
}

// WithLock runs fn while holding m and releases it on every exit path,
// panics included.
func WithLock(ctx context.Context, m *Mutex, fn func() error) error {
	g := NewGuard(ctx, m)
	defer g.Release()
	if !g.Held() {
		return ctx.Err()
	}
	return fn()
}

// Semaphore is a counting semaphore with the same take/give contract as
// Mutex. Give beyond the initial count is ignored.
type Semaphore struct {
	noCopy noCopy

	sys   *System
	sem   *semaphore.Weighted
	max   int64
	taken atomic.Int64
}

// NewSemaphore returns a semaphore with count tokens available.
func NewSemaphore(sys *System, count int64) *Semaphore {
	return &Semaphore{sys: sys, sem: semaphore.NewWeighted(count), max: count}
}

// Take waits up to timeoutMs for one token.
func (s *Semaphore) Take(ctx context.Context, timeoutMs uint32) bool {
	if take(ctx, s.sys, s.sem, timeoutMs) != nil {
		return false
	}
	s.taken.Add(1)
	return true
}

// Give returns one token and reports whether any are now available.
func (s *Semaphore) Give() bool {
	for {
		n := s.taken.Load()
		if n == 0 {
			return true
		}
		if s.taken.CompareAndSwap(n, n-1) {
			s.sem.Release(1)
			return true
		}
	}
}

// Available returns the number of tokens not currently taken.
func (s *Semaphore) Available() int64 {
	return s.max - s.taken.Load()
}
