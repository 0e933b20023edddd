package spi

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"

	"robocore/bus"
	"robocore/core"
)

const defaultBusTimeoutMs = 100

type speedLimiter interface {
	LimitSpeed(f physic.Frequency) error
}

// HardOption configures a Hard bus.
type HardOption func(*Hard)

// WithChipSelect gives the bus an active-low select line it drives
// around every transaction.
func WithChipSelect(cs gpio.PinOut) HardOption {
	return func(h *Hard) { h.cs = cs }
}

// WithMode sets the clock polarity and phase, mode 0 by default.
func WithMode(m spi.Mode) HardOption {
	return func(h *Hard) { h.mode = m }
}

// Hard drives an SPI peripheral through a periph port. periph runs a
// connection at the lower of the connect frequency and the port limit,
// so a port that supports LimitSpeed is connected once at the fastest
// step and every speed, up or down, is chosen through the limit. A port
// without LimitSpeed is connected at the requested step and stays there.
type Hard struct {
	name   string
	port   spi.Port
	cs     gpio.PinOut
	group  *bus.Group
	lock   *bus.Lock
	logger *zap.Logger

	mu    sync.Mutex
	conn  spi.Conn
	mode  spi.Mode
	speed Speed
	ready bool
}

// NewHard wraps port. A nil group means the pins are dedicated.
func NewHard(sys *core.System, name string, port spi.Port, group *bus.Group, opts ...HardOption) *Hard {
	if group == nil {
		group, _ = bus.NewGroup(name, nil)
		_ = group.SelectPeripheral()
	}
	h := &Hard{
		name:   name,
		port:   port,
		group:  group,
		lock:   bus.NewLock(sys, name, defaultBusTimeoutMs),
		logger: sys.Logger().Named(name),
		mode:   spi.Mode0,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hard) String() string {
	return h.name
}

// Init connects the port, 8 bit words, and sets the clock to speed.
func (h *Hard) Init(speed Speed) error {
	if !speed.Valid() {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: speed %s", h.name, speed)
	}
	h.mu.Lock()
	connected := h.conn != nil
	h.mu.Unlock()
	if !connected {
		f := speed.Frequency()
		if _, ok := h.port.(speedLimiter); ok {
			f = speeds[0].Frequency()
		}
		c, err := h.port.Connect(f, h.mode, 8)
		if err != nil {
			return errors.Wrapf(core.ErrInvalidConfiguration, "%s: connect: %v", h.name, err)
		}
		h.mu.Lock()
		h.conn = c
		h.speed = speed
		h.mu.Unlock()
	}
	if _, ok := h.port.(speedLimiter); ok || connected {
		if err := h.SetSpeed(speed); err != nil {
			return err
		}
	}
	if h.cs != nil {
		if err := h.cs.Out(gpio.High); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
	h.logger.Debug("spi ready", zap.Stringer("speed", speed), zap.Int("mode", int(h.mode)))
	return nil
}

// Deinit refuses further transactions until Init.
func (h *Hard) Deinit() error {
	h.mu.Lock()
	h.ready = false
	h.mu.Unlock()
	return nil
}

// SetSpeed moves a connected bus to another clock step through the port
// limit.
func (h *Hard) SetSpeed(speed Speed) error {
	if !speed.Valid() {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: speed %s", h.name, speed)
	}
	l, ok := h.port.(speedLimiter)
	if !ok {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: port cannot change speed", h.name)
	}
	if err := l.LimitSpeed(speed.Frequency()); err != nil {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: limit speed: %v", h.name, err)
	}
	h.mu.Lock()
	h.speed = speed
	h.mu.Unlock()
	return nil
}

// Speed returns the current clock step.
func (h *Hard) Speed() Speed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.speed
}

// Mode implements bus.ModeSelector.
func (h *Hard) Mode() bus.Mode {
	return h.group.Mode()
}

// SelectGPIO hands the SPI pins back to GPIO users.
func (h *Hard) SelectGPIO() error {
	return h.group.SelectGPIO()
}

// SelectSPI routes the pins to the peripheral.
func (h *Hard) SelectSPI() error {
	return h.group.SelectPeripheral()
}

// SelectPeripheral implements bus.ModeSelector.
func (h *Hard) SelectPeripheral() error {
	return h.SelectSPI()
}

// Write clocks data out and discards what comes back.
func (h *Hard) Write(data []byte) error {
	return h.transfer(data, nil)
}

// Read clocks out zeros and keeps what comes back.
func (h *Hard) Read(data []byte) error {
	return h.transfer(make([]byte, len(data)), data)
}

// RW is a full duplex transfer; tx and rx must be the same length.
func (h *Hard) RW(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: tx %d bytes, rx %d bytes", h.name, len(tx), len(rx))
	}
	return h.transfer(tx, rx)
}

// Tx implements drivers.SPI. Either buffer may be nil.
func (h *Hard) Tx(w, r []byte) error {
	switch {
	case w == nil:
		return h.Read(r)
	case r == nil:
		return h.Write(w)
	default:
		return h.RW(w, r)
	}
}

// Transfer implements drivers.SPI.
func (h *Hard) Transfer(b byte) (byte, error) {
	rx := make([]byte, 1)
	err := h.RW([]byte{b}, rx)
	return rx[0], err
}

func (h *Hard) transfer(tx, rx []byte) error {
	release, err := h.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer release()

	h.mu.Lock()
	c, ready := h.conn, h.ready
	h.mu.Unlock()
	if !ready || c == nil {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: not initialized", h.name)
	}

	end, err := h.group.Begin()
	if err != nil {
		return err
	}
	defer end()

	if h.cs != nil {
		if err := h.cs.Out(gpio.Low); err != nil {
			return err
		}
		defer func() { _ = h.cs.Out(gpio.High) }()
	}
	if err := c.Tx(tx, rx); err != nil {
		h.logger.Debug("transfer failed", zap.Int("len", len(tx)), zap.Error(err))
		return errors.Wrapf(core.ErrTransactionFailed, "%s: %v", h.name, err)
	}
	return nil
}

var (
	_ bus.SPI          = (*Hard)(nil)
	_ bus.ModeSelector = (*Hard)(nil)
	_ drivers.SPI      = (*Hard)(nil)
)
