package core

import (
	"context"
	"sync"
)

// critical tracks the single critical section that may be open at a time.
// The owning task may nest; everyone else, timer dispatch included, waits
// in StartCritical until the depth drops back to zero. Callers outside a
// task all share id 0 and so never nest: a second one waits like any
// other task.
type critical struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func (c *critical) init() {
	c.cond = sync.NewCond(&c.mu)
}

func (c *critical) enter(id uint64) {
	c.mu.Lock()
	for c.depth > 0 && (c.owner != id || id == 0) {
		c.cond.Wait()
	}
	c.owner = id
	c.depth++
	c.mu.Unlock()
}

func (c *critical) exit(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth == 0 || c.owner != id {
		return ErrCriticalUnbalanced
	}
	c.depth--
	if c.depth == 0 {
		c.owner = 0
		c.cond.Broadcast()
	}
	return nil
}

// waitIdle holds a task coming back from a suspension until no other
// task's section is open. Non-task callers are not held.
func (c *critical) waitIdle(id uint64) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	for c.depth > 0 && c.owner != id {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Depth reports how deeply the current critical section is nested.
func (c *critical) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// StartCritical opens or nests a critical section for the task in ctx.
// While it is open no other task may enter one, no timer fires, and a task
// waking from Delay, Join, a mutex or a CAN wait is held until it closes.
// Only task contexts nest. Keep the bracketed region short.
func (s *System) StartCritical(ctx context.Context) {
	s.crit.enter(taskID(ctx))
}

// EndCritical closes one level of the caller's critical section. Calling
// it without a matching StartCritical returns ErrCriticalUnbalanced.
func (s *System) EndCritical(ctx context.Context) error {
	return s.crit.exit(taskID(ctx))
}

// Critical runs fn inside a critical section.
func (s *System) Critical(ctx context.Context, fn func()) (err error) {
	s.StartCritical(ctx)
	defer func() { err = s.EndCritical(ctx) }()
	fn()
	return nil
}

// CriticalDepth returns the nesting depth of the open critical section.
func (s *System) CriticalDepth() int {
	return s.crit.Depth()
}

// Resume blocks a task returning from a wait of its own until no other
// critical section is open. Blocking primitives outside core call it
// before handing control back to their caller.
func (s *System) Resume(ctx context.Context) {
	s.crit.waitIdle(taskID(ctx))
}
