// Package bus holds what the I2C, SPI and CAN drivers share: the
// capability interfaces callers program against, the GPIO/peripheral
// mode select for pins that double as both, and the pin bank registry
// that stops two drivers from claiming the same line.
package bus

import (
	"context"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"

	"robocore/core"
)

// I2C is a controller-side I2C bus. A nil error is a completed
// transaction; a NACK is reported as core.ErrTransactionFailed.
type I2C interface {
	drivers.I2C

	Init(bps uint32) error
	Deinit() error
	SetDataRate(bps uint32) error

	Write(addr uint8, data []byte) error
	Read(addr uint8, data []byte) error
	// RW writes tx and, after a repeated start, reads into rx.
	RW(addr uint8, tx, rx []byte) error
}

// SPI is a controller-side SPI bus.
type SPI interface {
	drivers.SPI

	Write(data []byte) error
	Read(data []byte) error
	// RW clocks tx out while filling rx; both must be the same length.
	RW(tx, rx []byte) error
}

// ModeSelector is implemented by buses whose pins can be handed back for
// raw GPIO use.
type ModeSelector interface {
	Mode() Mode
	SelectGPIO() error
	SelectPeripheral() error
}

// Lock serializes transactions on one physical bus across tasks. A
// caller that cannot get the bus within the timeout gets core.ErrTimeout.
type Lock struct {
	name      string
	m         *core.Mutex
	timeoutMs uint32
}

// NewLock returns a bus lock timing out after timeoutMs on sys's clock.
func NewLock(sys *core.System, name string, timeoutMs uint32) *Lock {
	return &Lock{name: name, m: core.NewMutex(sys), timeoutMs: timeoutMs}
}

// Acquire takes the bus and returns the function that gives it back.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	if err := l.m.TakeErr(ctx, l.timeoutMs); err != nil {
		return nil, errors.Wrapf(err, "%s: bus busy", l.name)
	}
	return func() { l.m.Give() }, nil
}

// SetTimeout changes how long Acquire waits.
func (l *Lock) SetTimeout(ms uint32) {
	l.timeoutMs = ms
}
