//go:build rp2040

package main

import (
	"fmt"
	"machine"
	"sync"
	"time"

	"robocore/core"
)

// usbDev is the system log device on the USB CDC port. Timeouts are
// measured on the system's millisecond reference clock.
type usbDev struct {
	sys *core.System
	mu  sync.Mutex

	writeFailures uint32
}

// newUSBDev configures machine.Serial, which TinyGo routes to USB CDC on
// the RP2040.
func newUSBDev(sys *core.System) *usbDev {
	_ = machine.Serial.Configure(machine.UARTConfig{})
	return &usbDev{sys: sys}
}

func (d *usbDev) expired(start, timeoutMs uint32) bool {
	return timeoutMs != core.Infinite && d.sys.RefTime()-start >= timeoutMs
}

func (d *usbDev) Printf(format string, args ...interface{}) int {
	return d.Write([]byte(fmt.Sprintf(format, args...)), core.Infinite)
}

func (d *usbDev) Vprintf(format string, args []interface{}) int {
	return d.Printf(format, args...)
}

// Write pushes p out, giving up after timeoutMs. A host that stopped
// reading makes the port refuse data; after repeated refusals the rest
// of p is dropped rather than stalling the caller.
func (d *usbDev) Write(p []byte, timeoutMs uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := d.sys.RefTime()
	written := 0
	for written < len(p) {
		n, err := machine.Serial.Write(p[written:])
		written += n
		if err != nil || n == 0 {
			d.writeFailures++
			if d.writeFailures > 10 || d.expired(start, timeoutMs) {
				d.writeFailures = 0
				return written
			}
			time.Sleep(100 * time.Microsecond)
			continue
		}
		d.writeFailures = 0
	}
	return written
}

// Read waits up to timeoutMs for input, then takes what is buffered.
func (d *usbDev) Read(p []byte, timeoutMs uint32) int {
	if len(p) == 0 {
		return 0
	}
	start := d.sys.RefTime()
	for machine.Serial.Buffered() == 0 {
		if timeoutMs == 0 || d.expired(start, timeoutMs) {
			return 0
		}
		time.Sleep(100 * time.Microsecond)
	}
	n := 0
	for n < len(p) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		p[n] = b
		n++
	}
	return n
}

var _ core.LogDev = (*usbDev)(nil)
