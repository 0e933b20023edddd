// Package i2c provides the board's I2C controllers: a bit-banged bus on
// any two GPIO lines and a wrapper around a hardware peripheral whose
// pins are shared with GPIO.
package i2c

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"robocore/bus"
	"robocore/core"
)

const (
	// DefaultDataRate is used when Init is given zero.
	DefaultDataRate = 10000

	defaultStretchPolls = 1000
	defaultBusTimeoutMs = 100
)

// SoftOption configures a Soft bus.
type SoftOption func(*Soft)

// WithDelay replaces the half-bit delay function. Targets pass their
// busy-wait; tests pass a no-op.
func WithDelay(fn func(time.Duration)) SoftOption {
	return func(s *Soft) { s.delay = fn }
}

// WithStretchPolls bounds how many half-bit periods the bus waits for a
// target holding SCL low.
func WithStretchPolls(n int) SoftOption {
	return func(s *Soft) { s.stretchPolls = n }
}

// WithBusTimeout sets how long a transaction waits for the bus lock.
func WithBusTimeout(ms uint32) SoftOption {
	return func(s *Soft) { s.busTimeoutMs = ms }
}

// Soft is an I2C controller bit-banged on two open-drain GPIO lines. The
// lines are borrowed: the caller may use them as GPIO between
// transactions. Releasing a line means switching it to input with
// pull-up; driving it means output low.
type Soft struct {
	name   string
	sda    gpio.PinIO
	scl    gpio.PinIO
	lock   *bus.Lock
	logger *zap.Logger

	mu           sync.Mutex
	bps          uint32
	half         time.Duration
	delay        func(time.Duration)
	stretchPolls int
	busTimeoutMs uint32
	ready        bool
}

// NewSoft builds a bit-banged bus. Call Init before use.
func NewSoft(sys *core.System, name string, sda, scl gpio.PinIO, opts ...SoftOption) *Soft {
	s := &Soft{
		name:         name,
		sda:          sda,
		scl:          scl,
		logger:       sys.Logger().Named(name),
		delay:        time.Sleep,
		stretchPolls: defaultStretchPolls,
		busTimeoutMs: defaultBusTimeoutMs,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lock = bus.NewLock(sys, name, s.busTimeoutMs)
	return s
}

func (s *Soft) String() string {
	return s.name
}

// Init sets the data rate and releases both lines.
func (s *Soft) Init(bps uint32) error {
	if bps == 0 {
		bps = DefaultDataRate
	}
	if err := s.SetDataRate(bps); err != nil {
		return err
	}
	if err := s.release(s.sda); err != nil {
		return err
	}
	if err := s.release(s.scl); err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.logger.Debug("soft i2c ready", zap.Uint32("bps", bps), zap.Duration("half_period", s.HalfPeriod()))
	return nil
}

// Deinit releases the lines and refuses further transactions until Init.
func (s *Soft) Deinit() error {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if err := s.release(s.sda); err != nil {
		return err
	}
	return s.release(s.scl)
}

// SetDataRate changes the bit rate. The half-bit delay is recomputed
// here, so a rate change takes effect on the next transaction.
func (s *Soft) SetDataRate(bps uint32) error {
	if bps == 0 || bps > 1000000 {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: data rate %d", s.name, bps)
	}
	s.mu.Lock()
	s.bps = bps
	s.half = time.Second / time.Duration(2*bps)
	s.mu.Unlock()
	return nil
}

// DataRate returns the configured bit rate.
func (s *Soft) DataRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bps
}

// HalfPeriod returns the delay between clock edges at the current rate.
func (s *Soft) HalfPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.half
}

// Write sends data to addr.
func (s *Soft) Write(addr uint8, data []byte) error {
	return s.RW(addr, data, nil)
}

// Read fills data from addr.
func (s *Soft) Read(addr uint8, data []byte) error {
	return s.RW(addr, nil, data)
}

// Tx implements drivers.I2C.
func (s *Soft) Tx(addr uint16, w, r []byte) error {
	return s.RW(uint8(addr), w, r)
}

// RW writes tx then reads rx in one transaction with a repeated start
// between the two phases. Either phase may be empty.
func (s *Soft) RW(addr uint8, tx, rx []byte) error {
	release, err := s.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: not initialized", s.name)
	}

	err = s.transfer(addr, tx, rx)
	if serr := s.stop(); err == nil {
		err = serr
	}
	if err != nil {
		s.logger.Debug("transaction failed", zap.String("addr", fmt.Sprintf("%#02x", addr)), zap.Error(err))
	}
	return err
}

func (s *Soft) transfer(addr uint8, tx, rx []byte) error {
	if err := s.start(); err != nil {
		return err
	}
	if len(tx) > 0 || len(rx) == 0 {
		if err := s.writeAddr(addr, false); err != nil {
			return err
		}
		for i, b := range tx {
			ack, err := s.writeByte(b)
			if err != nil {
				return err
			}
			if !ack {
				return errors.Wrapf(core.ErrTransactionFailed, "%s: %#02x nack on byte %d", s.name, addr, i)
			}
		}
		if len(rx) == 0 {
			return nil
		}
		if err := s.restart(); err != nil {
			return err
		}
	}

	if err := s.writeAddr(addr, true); err != nil {
		return err
	}
	for i := range rx {
		b, err := s.readByte(i < len(rx)-1)
		if err != nil {
			return err
		}
		rx[i] = b
	}
	return nil
}

func (s *Soft) writeAddr(addr uint8, read bool) error {
	b := addr << 1
	if read {
		b |= 1
	}
	ack, err := s.writeByte(b)
	if err != nil {
		return err
	}
	if !ack {
		return errors.Wrapf(core.ErrTransactionFailed, "%s: no ack from %#02x", s.name, addr)
	}
	return nil
}

func (s *Soft) wait() {
	s.delay(s.HalfPeriod())
}

func (s *Soft) release(p gpio.PinIO) error {
	return p.In(gpio.PullUp, gpio.NoEdge)
}

func (s *Soft) low(p gpio.PinIO) error {
	return p.Out(gpio.Low)
}

// sclHigh releases SCL and waits while a target stretches the clock.
func (s *Soft) sclHigh() error {
	if err := s.release(s.scl); err != nil {
		return err
	}
	for i := 0; s.scl.Read() == gpio.Low; i++ {
		if i >= s.stretchPolls {
			return errors.Wrapf(core.ErrTimeout, "%s: scl held low", s.name)
		}
		s.wait()
	}
	return nil
}

func (s *Soft) setSDA(high bool) error {
	if high {
		return s.release(s.sda)
	}
	return s.low(s.sda)
}

// start issues START: SDA falls while SCL is high.
func (s *Soft) start() error {
	if err := s.release(s.sda); err != nil {
		return err
	}
	if err := s.sclHigh(); err != nil {
		return err
	}
	if s.sda.Read() == gpio.Low {
		return errors.Wrapf(core.ErrTransactionFailed, "%s: sda held low, bus stuck", s.name)
	}
	s.wait()
	if err := s.low(s.sda); err != nil {
		return err
	}
	s.wait()
	return s.low(s.scl)
}

// restart issues a repeated START from the low-clock state.
func (s *Soft) restart() error {
	if err := s.release(s.sda); err != nil {
		return err
	}
	s.wait()
	if err := s.sclHigh(); err != nil {
		return err
	}
	s.wait()
	if err := s.low(s.sda); err != nil {
		return err
	}
	s.wait()
	return s.low(s.scl)
}

// stop issues STOP: SDA rises while SCL is high.
func (s *Soft) stop() error {
	if err := s.low(s.sda); err != nil {
		return err
	}
	s.wait()
	if err := s.sclHigh(); err != nil {
		return err
	}
	s.wait()
	if err := s.release(s.sda); err != nil {
		return err
	}
	s.wait()
	return nil
}

func (s *Soft) clockBit(high bool) error {
	if err := s.setSDA(high); err != nil {
		return err
	}
	s.wait()
	if err := s.sclHigh(); err != nil {
		return err
	}
	s.wait()
	return s.low(s.scl)
}

// writeByte shifts b out MSB first and reports whether the target acked.
func (s *Soft) writeByte(b byte) (bool, error) {
	for bit := 7; bit >= 0; bit-- {
		if err := s.clockBit(b&(1<<uint(bit)) != 0); err != nil {
			return false, err
		}
	}

	if err := s.release(s.sda); err != nil {
		return false, err
	}
	s.wait()
	if err := s.sclHigh(); err != nil {
		return false, err
	}
	ack := s.sda.Read() == gpio.Low
	s.wait()
	return ack, s.low(s.scl)
}

// readByte shifts a byte in MSB first, then acks it when more bytes are
// wanted or nacks the last one.
func (s *Soft) readByte(ack bool) (byte, error) {
	var b byte
	if err := s.release(s.sda); err != nil {
		return 0, err
	}
	for bit := 7; bit >= 0; bit-- {
		s.wait()
		if err := s.sclHigh(); err != nil {
			return 0, err
		}
		if s.sda.Read() == gpio.High {
			b |= 1 << uint(bit)
		}
		s.wait()
		if err := s.low(s.scl); err != nil {
			return 0, err
		}
	}
	if err := s.clockBit(!ack); err != nil {
		return 0, err
	}
	return b, s.release(s.sda)
}
