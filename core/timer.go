package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TimerMode selects whether a timer fires once or keeps firing.
type TimerMode uint8

const (
	OneShot TimerMode = iota
	Repeat
)

// TimerStart selects whether a timer is armed at registration.
type TimerStart uint8

const (
	// Immediate arms the timer at registration; it first fires one period later.
	Immediate TimerStart = iota
	// Deferred leaves the timer stopped until Start.
	Deferred
)

// TimerFunc is a timer callback. Handlers run on the dispatcher, one at a
// time; ctx lets a handler open a critical section of its own.
type TimerFunc func(ctx context.Context, h TimerHandle, userData interface{})

// TimerHandle refers to a slot in the timer table.
type TimerHandle struct {
	index int
	gen   uint32
}

type timerSlot struct {
	index   int
	gen     uint32
	used    bool
	period  uint32
	mode    TimerMode
	running bool
	wake    uint32
	handler TimerFunc
	data    interface{}
	fired   uint32
	next    *timerSlot
}

// AddTimer registers handler to run every periodMs (Repeat) or once after
// periodMs (OneShot). It fails with ErrResourceExhausted when the timer
// table is full.
func (s *System) AddTimer(periodMs uint32, mode TimerMode, start TimerStart, handler TimerFunc, userData interface{}) (TimerHandle, error) {
	if periodMs == 0 {
		return TimerHandle{}, errorf(ErrInvalidConfiguration, "timer period must be positive")
	}
	if handler == nil {
		return TimerHandle{}, errorf(ErrInvalidConfiguration, "timer handler is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var t *timerSlot
	for i := range s.timers {
		if !s.timers[i].used {
			t = &s.timers[i]
			break
		}
	}
	if t == nil {
		s.logger.Warn("timer table full", zap.Int("capacity", len(s.timers)))
		return TimerHandle{}, errorf(ErrResourceExhausted, "timer table full (%d)", len(s.timers))
	}

	t.gen++
	if t.gen == 0 {
		t.gen = 1
	}
	t.used = true
	t.period = periodMs
	t.mode = mode
	t.handler = handler
	t.data = userData
	t.fired = 0
	t.running = false
	t.next = nil
	if start == Immediate {
		s.armTimer(t)
	}
	return TimerHandle{index: t.index, gen: t.gen}, nil
}

// AddTimeout registers a one-shot timer that is armed at once.
func (s *System) AddTimeout(ms uint32, handler TimerFunc, userData interface{}) (TimerHandle, error) {
	return s.AddTimer(ms, OneShot, Immediate, handler, userData)
}

// AddInterval registers a repeating timer that is armed at once.
func (s *System) AddInterval(ms uint32, handler TimerFunc, userData interface{}) (TimerHandle, error) {
	return s.AddTimer(ms, Repeat, Immediate, handler, userData)
}

func (s *System) timerSlot(h TimerHandle) (*timerSlot, error) {
	if h.index < 0 || h.index >= len(s.timers) {
		return nil, ErrStaleHandle
	}
	t := &s.timers[h.index]
	if !t.used || t.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return t, nil
}

// StartTimer arms a stopped timer; a running timer is restarted from now.
func (s *System) StartTimer(h TimerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	if err != nil {
		return err
	}
	s.unlinkTimer(t)
	s.armTimer(t)
	return nil
}

// StopTimer disarms the timer. The handle stays valid.
func (s *System) StopTimer(h TimerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	if err != nil {
		return err
	}
	s.unlinkTimer(t)
	t.running = false
	return nil
}

// TimerRunning reports whether the timer is armed.
func (s *System) TimerRunning(h TimerHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	return err == nil && t.running
}

// TimerFired returns how many times the timer's handler has been called.
func (s *System) TimerFired(h TimerHandle) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	if err != nil {
		return 0, err
	}
	return t.fired, nil
}

// SetTimerPeriod changes the period. A running timer is rearmed from now.
func (s *System) SetTimerPeriod(h TimerHandle, periodMs uint32) error {
	if periodMs == 0 {
		return errorf(ErrInvalidConfiguration, "timer period must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	if err != nil {
		return err
	}
	t.period = periodMs
	if t.running {
		s.unlinkTimer(t)
		s.armTimer(t)
	}
	return nil
}

// FreeTimer disarms the timer and releases its slot. The handle is
// invalid afterwards.
func (s *System) FreeTimer(h TimerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.timerSlot(h)
	if err != nil {
		return err
	}
	s.releaseTimer(t)
	return nil
}

func (s *System) releaseTimer(t *timerSlot) {
	s.unlinkTimer(t)
	t.running = false
	t.used = false
	t.handler = nil
	t.data = nil
}

// armTimer schedules t one period from now. s.mu must be held.
func (s *System) armTimer(t *timerSlot) {
	t.wake = s.RefTime() + t.period
	t.running = true
	s.insertTimer(t)
}

// insertTimer links t into the wake-ordered list. s.mu must be held.
func (s *System) insertTimer(t *timerSlot) {
	if s.timerList == nil || isBefore(t.wake, s.timerList.wake) {
		t.next = s.timerList
		s.timerList = t
		return
	}

	cur := s.timerList
	for cur.next != nil && !isBefore(t.wake, cur.next.wake) {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

// unlinkTimer removes t from the list if present. s.mu must be held.
func (s *System) unlinkTimer(t *timerSlot) {
	for p := &s.timerList; *p != nil; p = &(*p).next {
		if *p == t {
			*p = t.next
			t.next = nil
			return
		}
	}
}

// DispatchTimers runs every handler whose wake time has been reached.
// A repeating timer is rearmed at wake+period rather than now+period, so
// its cadence does not drift with dispatch latency; when dispatch falls
// behind by several periods each missed period still fires once. Nothing
// fires while a task holds a critical section.
func (s *System) DispatchTimers(ctx context.Context) int {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.crit.enter(dispatcherID)
	defer func() { _ = s.crit.exit(dispatcherID) }()

	hctx := context.WithValue(ctx, taskKey{}, taskRef{id: dispatcherID})
	now := s.RefTime()
	n := 0
	for {
		s.mu.Lock()
		t := s.timerList
		if t == nil || isBefore(now, t.wake) {
			s.mu.Unlock()
			return n
		}
		s.timerList = t.next
		t.next = nil
		t.fired++
		if t.mode == Repeat {
			t.wake += t.period
			s.insertTimer(t)
		} else {
			t.running = false
		}
		h := TimerHandle{index: t.index, gen: t.gen}
		handler, data := t.handler, t.data
		s.mu.Unlock()

		handler(hctx, h, data)
		n++

		if t.mode == OneShot {
			s.mu.Lock()
			// the handler may have rearmed or freed it
			if t.used && t.gen == h.gen && !t.running {
				s.releaseTimer(t)
			}
			s.mu.Unlock()
		}
	}
}

// Run dispatches timers every Config.DispatchInterval until ctx is done.
func (s *System) Run(ctx context.Context) error {
	ticker := s.clk.Ticker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	s.logger.Debug("timer dispatch started", zap.Duration("interval", s.cfg.DispatchInterval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.DispatchTimers(ctx)
		}
	}
}

// Uptime returns the time since the system was constructed.
func (s *System) Uptime() time.Duration {
	return s.clk.Since(s.boot)
}
