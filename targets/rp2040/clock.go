//go:build rp2040

package main

import (
	"runtime/volatile"
	"time"
	"unsafe"
)

// The RP2040 timer is a free running 64-bit microsecond counter.
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// busyWait spins on the hardware timer for d, rounded down to whole
// microseconds. The bit-banged buses use it for their half-bit delays,
// which are too short for the scheduler's sleep.
func busyWait(d time.Duration) {
	us := uint32(d / time.Microsecond)
	if us == 0 {
		return
	}
	start := timerRAWL.Get()
	for timerRAWL.Get()-start < us {
	}
}
