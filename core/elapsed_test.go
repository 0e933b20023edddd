package core

import (
	"testing"

	"go.viam.com/test"
)

type fakeRef struct {
	now uint32
}

func (f *fakeRef) RefTime() uint32 { return f.now }

func TestElapsedTimerFiresOncePerInterval(t *testing.T) {
	src := &fakeRef{now: 1000}
	e := NewElapsedTimer(src, 100)

	var prev uint32
	fires := 0
	for ms := uint32(0); ms < 1000; ms++ {
		src.now++
		if e.HasElapsed() {
			fires++
		}
		test.That(t, e.ElapsedTimes(), test.ShouldBeGreaterThanOrEqualTo, prev)
		prev = e.ElapsedTimes()
	}
	test.That(t, fires, test.ShouldEqual, 10)
	test.That(t, e.ElapsedTimes(), test.ShouldEqual, uint32(10))
	// reading the count does not reset it
	test.That(t, e.ElapsedTimes(), test.ShouldEqual, uint32(10))
}

func TestElapsedTimerNoMutationWhenNotDue(t *testing.T) {
	src := &fakeRef{now: 0}
	e := NewElapsedTimer(src, 50)
	src.now = 49
	test.That(t, e.HasElapsed(), test.ShouldBeFalse)
	test.That(t, e.HasElapsed(), test.ShouldBeFalse)
	src.now = 50
	test.That(t, e.HasElapsed(), test.ShouldBeTrue)
	test.That(t, e.HasElapsed(), test.ShouldBeFalse)
}

func TestElapsedTimerAcrossWrap(t *testing.T) {
	src := &fakeRef{now: 0xFFFFFFF0}
	e := NewElapsedTimer(src, 100)

	src.now += 99 // wrapped past zero
	test.That(t, src.now < 0xFFFFFFF0, test.ShouldBeTrue)
	test.That(t, e.HasElapsed(), test.ShouldBeFalse)
	src.now++
	test.That(t, e.HasElapsed(), test.ShouldBeTrue)
	test.That(t, e.ElapsedTimes(), test.ShouldEqual, uint32(1))
}

func TestElapsedTimerFirstRunDelay(t *testing.T) {
	for _, tc := range []struct {
		name      string
		delay     uint32
		firstFire uint32
	}{
		{"earlier", 20, 20},
		{"immediate", 0, 0},
		{"later", 250, 250},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeRef{now: 500}
			e := NewElapsedTimerWithDelay(src, 100, tc.delay)

			at := uint32(0)
			for ; !e.HasElapsed(); at++ {
				src.now++
			}
			test.That(t, at, test.ShouldEqual, tc.firstFire)

			// later intervals are full length
			start := src.now
			for !e.HasElapsed() {
				src.now++
			}
			test.That(t, src.now-start, test.ShouldEqual, uint32(100))
		})
	}
}

func TestElapsedTimerReset(t *testing.T) {
	src := &fakeRef{}
	e := NewElapsedTimer(src, 10)
	src.now = 9
	e.Reset()
	src.now = 18
	test.That(t, e.HasElapsed(), test.ShouldBeFalse)
	e.SetInterval(5)
	test.That(t, e.Interval(), test.ShouldEqual, uint32(5))
	test.That(t, e.HasElapsed(), test.ShouldBeTrue)
}
