package core

import (
	"context"
	"time"
)

// Infinite is the timeout sentinel for an unbounded wait.
const Infinite uint32 = 0xFFFFFFFF

// RefClock is the monotonic millisecond source the rate limiting helpers
// poll. System implements it; tests may supply their own.
type RefClock interface {
	RefTime() uint32
}

// RefTime returns the monotonic reference time in milliseconds since the
// system was constructed. The value wraps at 2^32; compare two readings
// only through Elapsed.
func (s *System) RefTime() uint32 {
	return s.cfg.RefTimeOffset + uint32(s.clk.Since(s.boot)/time.Millisecond)
}

// UsTimVal returns the monotonic time in microseconds. Wraps after ~71 minutes.
func (s *System) UsTimVal() uint32 {
	return s.cfg.RefTimeOffset*1000 + uint32(s.clk.Since(s.boot)/time.Microsecond)
}

// Elapsed returns now-then in modular arithmetic, which stays correct
// across a single wrap of the counter.
func Elapsed(now, then uint32) uint32 {
	return now - then
}

// isBefore reports whether a precedes b on the wrapping timeline.
func isBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Delay suspends the calling task for at least ms milliseconds.
func (s *System) Delay(ctx context.Context, ms uint32) error {
	defer s.block(ctx)()
	return s.sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// DelayUs suspends for us microseconds. us must be a multiple of the
// hardware tick (Config.TickUs); other values are rejected without sleeping.
func (s *System) DelayUs(ctx context.Context, us uint32) error {
	if us%s.cfg.TickUs != 0 {
		return errorf(ErrInvalidConfiguration, "delay of %dus is not a multiple of the %dus tick", us, s.cfg.TickUs)
	}
	defer s.block(ctx)()
	return s.sleep(ctx, time.Duration(us)*time.Microsecond)
}

// DelaySync sleeps until *ref+interval and then advances *ref by interval,
// so a loop calling it keeps an average period of interval regardless of
// how long the loop body takes. When the deadline has already passed the
// call returns at once and resynchronizes *ref to now; missed periods are
// dropped rather than replayed.
func (s *System) DelaySync(ctx context.Context, ref *uint32, interval uint32) error {
	now := s.RefTime()
	elapsed := Elapsed(now, *ref)
	if elapsed >= interval {
		*ref = now
		return nil
	}

	defer s.block(ctx)()
	if err := s.sleep(ctx, time.Duration(interval-elapsed)*time.Millisecond); err != nil {
		return err
	}
	*ref += interval
	return nil
}

func (s *System) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		s.Resume(ctx)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait blocks until ch is closed, ctx ends or timeoutMs elapses on the
// system clock. A returning task is held by any open critical
// section before it returns.
func (s *System) wait(ctx context.Context, ch <-chan struct{}, timeoutMs uint32) error {
	err := s.waitFor(ctx, ch, timeoutMs)
	if err == nil || err == ErrTimeout {
		s.Resume(ctx)
	}
	return err
}

func (s *System) waitFor(ctx context.Context, ch <-chan struct{}, timeoutMs uint32) error {
	select {
	case <-ch:
		return nil
	default:
	}
	if timeoutMs == Infinite {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tctx, cancel := s.clk.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()
	select {
	case <-ch:
		return nil
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrTimeout
	}
}

// WithTimeout derives a context that ends after timeoutMs on the system
// clock. Infinite gives a context that only ends with its parent.
func (s *System) WithTimeout(ctx context.Context, timeoutMs uint32) (context.Context, context.CancelFunc) {
	if timeoutMs == Infinite {
		return context.WithCancel(ctx)
	}
	return s.clk.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
}
