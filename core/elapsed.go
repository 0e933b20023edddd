package core

// ElapsedTimer rate-limits periodic work polled from a task loop:
//
//	blink := core.NewElapsedTimer(sys, 500)
//	for {
//		if blink.HasElapsed() {
//			led.Toggle()
//		}
//	}
type ElapsedTimer struct {
	src      RefClock
	interval uint32
	last     uint32
	count    uint32

	// first interval length when it differs from interval
	firstDelay uint32
	primed     bool
}

// NewElapsedTimer starts counting from now; the first interval ends
// intervalMs from now.
func NewElapsedTimer(src RefClock, intervalMs uint32) *ElapsedTimer {
	return &ElapsedTimer{src: src, interval: intervalMs, last: src.RefTime()}
}

// NewElapsedTimerWithDelay primes the timer so the first interval ends
// firstRunDelayMs from now instead of intervalMs. A delay of zero fires on
// the first poll.
func NewElapsedTimerWithDelay(src RefClock, intervalMs, firstRunDelayMs uint32) *ElapsedTimer {
	return &ElapsedTimer{
		src:        src,
		interval:   intervalMs,
		last:       src.RefTime(),
		firstDelay: firstRunDelayMs,
		primed:     true,
	}
}

// HasElapsed reports whether a full interval has passed since the last
// time it returned true, and if so starts the next interval at now.
func (e *ElapsedTimer) HasElapsed() bool {
	now := e.src.RefTime()
	want := e.interval
	if e.primed {
		want = e.firstDelay
	}
	if Elapsed(now, e.last) < want {
		return false
	}
	e.primed = false
	e.last = now
	e.count++
	return true
}

// ElapsedTimes returns how many times HasElapsed has returned true.
func (e *ElapsedTimer) ElapsedTimes() uint32 {
	return e.count
}

// Interval returns the configured interval in milliseconds.
func (e *ElapsedTimer) Interval() uint32 {
	return e.interval
}

// SetInterval changes the interval without restarting the current one.
func (e *ElapsedTimer) SetInterval(ms uint32) {
	e.interval = ms
}

// Reset starts a fresh full interval at now. The fire count is kept.
func (e *ElapsedTimer) Reset() {
	e.primed = false
	e.last = e.src.RefTime()
}
