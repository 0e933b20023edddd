package i2c

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"robocore/bus"
	"robocore/core"
)

// baudSetter is the rate control of a TinyGo machine.I2C.
type baudSetter interface {
	SetBaudRate(br uint32) error
}

// speedSetter is the rate control of a periph i2c.Bus.
type speedSetter interface {
	SetSpeed(f physic.Frequency) error
}

// HardOption configures a Hard bus.
type HardOption func(*Hard)

// WithHardBusTimeout sets how long a transaction waits for the bus lock.
func WithHardBusTimeout(ms uint32) HardOption {
	return func(h *Hard) { h.busTimeoutMs = ms }
}

// Hard drives an I2C peripheral. Its pins belong to a bus.Group and must
// be switched to the peripheral with SelectI2C before any transaction.
type Hard struct {
	name   string
	dev    drivers.I2C
	group  *bus.Group
	lock   *bus.Lock
	logger *zap.Logger

	busTimeoutMs uint32

	mu    sync.Mutex
	bps   uint32
	ready bool
}

// NewHard wraps dev. A nil group means the pins are dedicated and the
// bus is always in peripheral mode.
func NewHard(sys *core.System, name string, dev drivers.I2C, group *bus.Group, opts ...HardOption) *Hard {
	if group == nil {
		group, _ = bus.NewGroup(name, nil)
		_ = group.SelectPeripheral()
	}
	h := &Hard{
		name:         name,
		dev:          dev,
		group:        group,
		logger:       sys.Logger().Named(name),
		busTimeoutMs: defaultBusTimeoutMs,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.lock = bus.NewLock(sys, name, h.busTimeoutMs)
	return h
}

// String implements i2c.Bus.
func (h *Hard) String() string {
	return h.name
}

// Init sets the data rate, 10 kbps when bps is zero.
func (h *Hard) Init(bps uint32) error {
	if bps == 0 {
		bps = DefaultDataRate
	}
	if err := h.SetDataRate(bps); err != nil {
		return err
	}
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
	return nil
}

// Deinit refuses further transactions until Init.
func (h *Hard) Deinit() error {
	h.mu.Lock()
	h.ready = false
	h.mu.Unlock()
	return nil
}

// SetDataRate reprograms the peripheral clock when the controller
// supports it.
func (h *Hard) SetDataRate(bps uint32) error {
	if bps == 0 || bps > 1000000 {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: data rate %d", h.name, bps)
	}
	var err error
	switch d := h.dev.(type) {
	case baudSetter:
		err = d.SetBaudRate(bps)
	case speedSetter:
		err = d.SetSpeed(physic.Frequency(bps) * physic.Hertz)
	}
	if err != nil {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: set rate %d: %v", h.name, bps, err)
	}
	h.mu.Lock()
	h.bps = bps
	h.mu.Unlock()
	h.logger.Debug("i2c rate", zap.Uint32("bps", bps))
	return nil
}

// SetSpeed implements i2c.Bus.
func (h *Hard) SetSpeed(f physic.Frequency) error {
	return h.SetDataRate(uint32(f / physic.Hertz))
}

// DataRate returns the configured bit rate.
func (h *Hard) DataRate() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bps
}

// Mode implements bus.ModeSelector.
func (h *Hard) Mode() bus.Mode {
	return h.group.Mode()
}

// SelectGPIO hands SDA and SCL back to GPIO users.
func (h *Hard) SelectGPIO() error {
	return h.group.SelectGPIO()
}

// SelectI2C routes SDA and SCL to the peripheral.
func (h *Hard) SelectI2C() error {
	return h.group.SelectPeripheral()
}

// SelectPeripheral implements bus.ModeSelector.
func (h *Hard) SelectPeripheral() error {
	return h.SelectI2C()
}

// Write sends data to addr.
func (h *Hard) Write(addr uint8, data []byte) error {
	return h.RW(addr, data, nil)
}

// Read fills data from addr.
func (h *Hard) Read(addr uint8, data []byte) error {
	return h.RW(addr, nil, data)
}

// Tx implements both drivers.I2C and i2c.Bus.
func (h *Hard) Tx(addr uint16, w, r []byte) error {
	return h.RW(uint8(addr), w, r)
}

// RW runs one write-then-read transaction.
func (h *Hard) RW(addr uint8, tx, rx []byte) error {
	release, err := h.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer release()

	h.mu.Lock()
	ready := h.ready
	h.mu.Unlock()
	if !ready {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: not initialized", h.name)
	}

	end, err := h.group.Begin()
	if err != nil {
		return err
	}
	defer end()

	if err := h.dev.Tx(uint16(addr), tx, rx); err != nil {
		h.logger.Debug("transaction failed", zap.Uint8("addr", addr), zap.Error(err))
		return errors.Wrapf(core.ErrTransactionFailed, "%s: %#02x: %v", h.name, addr, err)
	}
	return nil
}

var (
	_ bus.I2C          = (*Hard)(nil)
	_ bus.I2C          = (*Soft)(nil)
	_ bus.ModeSelector = (*Hard)(nil)
	_ i2c.Bus          = (*Hard)(nil)
	_ drivers.I2C      = (*Soft)(nil)
)
