// Package mcu assembles a simulated board from a board file so the host
// tools can exercise the real bus, storage and header code without
// hardware. Every line of the board is a pinsim line; the identity
// EEPROM answers on the storage bus.
package mcu

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	periphspi "periph.io/x/conn/v3/spi"

	"robocore/bus"
	"robocore/bus/can"
	"robocore/bus/i2c"
	"robocore/bus/spi"
	"robocore/config"
	"robocore/core"
	"robocore/header"
	"robocore/host/pinsim"
	"robocore/storage"
)

// Option tunes the simulation.
type Option func(*options)

type options struct {
	delay func(time.Duration)
}

// WithBitDelay replaces the half-bit wait of the bit-banged buses. Tests
// pass a no-op to run at full speed.
func WithBitDelay(fn func(time.Duration)) Option {
	return func(o *options) { o.delay = fn }
}

// MCU is a simulated board.
type MCU struct {
	Sys  *core.System
	Pins *pinsim.Board
	Bank *bus.Bank
	I2C  map[string]bus.I2C
	SPI  map[string]bus.SPI
	CAN  *can.Controller

	// EEPROM is the simulated identity chip, nil when the board file
	// names no storage bus.
	EEPROM *pinsim.EEPROM
	Store  *storage.Store

	cfg     *config.Board
	logger  *zap.Logger
	canBus  *can.Loopback
	nextPin int
}

// New builds the board described by cfg. Buses are initialized; CAN is
// created but not started.
func New(cfg *config.Board, logger *zap.Logger, opts ...Option) (*MCU, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sys, err := core.New(cfg.CoreConfig(logger))
	if err != nil {
		return nil, err
	}
	m := &MCU{
		Sys:    sys,
		Pins:   pinsim.NewBoard(),
		Bank:   bus.NewBank(),
		I2C:    make(map[string]bus.I2C),
		SPI:    make(map[string]bus.SPI),
		cfg:    cfg,
		logger: logger.Named(cfg.Name),
	}

	for _, c := range cfg.I2C {
		b, err := m.buildI2C(c, o)
		if err != nil {
			return nil, err
		}
		m.I2C[c.Name] = b
	}
	for _, c := range cfg.SPI {
		b, err := m.buildSPI(c, o)
		if err != nil {
			return nil, err
		}
		m.SPI[c.Name] = b
	}
	if cfg.CAN.Enabled {
		m.buildCAN(cfg.CAN)
	}
	if cfg.Storage.Bus != "" {
		if err := m.buildStorage(cfg.Storage); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// pin returns the simulated pin for a board pin name. Each pin sits on
// its own line named after it.
func (m *MCU) pin(name string) *pinsim.Pin {
	m.nextPin++
	return m.Pins.Pin(name, m.nextPin, name)
}

func (m *MCU) buildI2C(c config.I2CConfig, o options) (bus.I2C, error) {
	sdaName, sclName := c.SDA, c.SCL
	if sdaName == "" {
		sdaName = c.Name + "_sda"
	}
	if sclName == "" {
		sclName = c.Name + "_scl"
	}
	sda, scl := m.pin(sdaName), m.pin(sclName)

	softOpts := []i2c.SoftOption{i2c.WithBusTimeout(c.TimeoutMs)}
	if o.delay != nil {
		softOpts = append(softOpts, i2c.WithDelay(o.delay))
	}

	if c.Soft {
		if err := m.Bank.Claim(c.Name, sda, scl); err != nil {
			return nil, err
		}
		s := i2c.NewSoft(m.Sys, c.Name, sda, scl, softOpts...)
		return s, s.Init(c.Rate)
	}

	// The peripheral is modelled by a bit-banged engine on the group's
	// raw pins, behind the same mode select a real controller has.
	group, err := bus.NewGroup(c.Name, m.Bank, sda, scl)
	if err != nil {
		return nil, err
	}
	raw := group.Pins()
	engine := i2c.NewSoft(m.Sys, c.Name+"-engine", raw[0], raw[1], softOpts...)
	if err := engine.Init(c.Rate); err != nil {
		return nil, err
	}
	h := i2c.NewHard(m.Sys, c.Name, engine, group, i2c.WithHardBusTimeout(c.TimeoutMs))
	if err := h.Init(c.Rate); err != nil {
		return nil, err
	}
	return h, h.SelectI2C()
}

func (m *MCU) buildSPI(c config.SPIConfig, o options) (bus.SPI, error) {
	name := func(p, suffix string) string {
		if p == "" {
			return c.Name + "_" + suffix
		}
		return p
	}
	sck := m.pin(name(c.SCK, "sck"))
	mosi := m.pin(name(c.MOSI, "mosi"))
	miso := m.pin(name(c.MISO, "miso"))
	pins := []gpio.PinIO{sck, mosi, miso}
	if c.CS != "" {
		cs := m.pin(c.CS)
		pins = append(pins, cs)
		if err := cs.Out(gpio.High); err != nil {
			return nil, err
		}
	}
	if err := m.Bank.Claim(c.Name, pins...); err != nil {
		return nil, err
	}

	if !c.Soft {
		if _, err := spi.ParseSpeed(c.SpeedKHz); err != nil {
			return nil, err
		}
	}
	s := spi.NewSoft(m.Sys, c.Name, sck, mosi, miso, o.delay)
	return s, s.Init(periphspi.Mode(c.Mode), c.SpeedKHz*1000)
}

func (m *MCU) buildCAN(c config.CANConfig) {
	m.canBus = can.NewLoopback(c.RxDepth)
	opts := []can.Option{can.WithRxDepth(c.RxDepth)}
	if c.EnablePin != "" {
		opts = append(opts, can.WithEnablePin(m.pin(c.EnablePin)))
	}
	m.CAN = can.New(m.Sys, "can0", m.canBus, opts...)
}

func (m *MCU) buildStorage(c config.StorageConfig) error {
	b, ok := m.I2C[c.Bus]
	if !ok {
		return errors.Wrapf(core.ErrInvalidConfiguration, "storage bus %q", c.Bus)
	}
	busCfg, _ := m.cfg.I2CBus(c.Bus)
	sdaName, sclName := busCfg.SDA, busCfg.SCL
	if sdaName == "" {
		sdaName = c.Bus + "_sda"
	}
	if sclName == "" {
		sclName = c.Bus + "_scl"
	}
	m.EEPROM = pinsim.NewEEPROM(int(c.Size))
	m.Pins.AttachI2C(sdaName, sclName, uint8(c.Address), m.EEPROM)

	store, err := storage.New(storage.NewEEPROM(b, c.Address, c.Size, c.PageSize), m.logger.Named("storage"),
		storage.Record{ID: core.RecordHeader, MaxSize: header.Size})
	if err != nil {
		return err
	}
	m.Store = store
	m.Sys.SetStorage(store)
	return nil
}

// Start brings up CAN, when present, and enables it.
func (m *MCU) Start(ctx context.Context) error {
	if m.CAN == nil {
		return nil
	}
	if err := m.CAN.Init(ctx, m.cfg.CAN.Bitrate); err != nil {
		return err
	}
	return m.CAN.Enable()
}

// Close stops CAN and releases the buses.
func (m *MCU) Close(ctx context.Context) error {
	var err error
	if m.CAN != nil {
		err = multierr.Append(err, m.CAN.Close(ctx))
		err = multierr.Append(err, m.canBus.Close())
	}
	for _, name := range m.busNames() {
		if b, ok := m.I2C[name]; ok {
			err = multierr.Append(err, b.Deinit())
		}
	}
	return err
}

func (m *MCU) busNames() []string {
	names := make([]string, 0, len(m.I2C))
	for name := range m.I2C {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scan lists the addresses answering on the named I2C bus.
func (m *MCU) Scan(name string) ([]uint8, error) {
	b, ok := m.I2C[name]
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidConfiguration, "no i2c bus %q", name)
	}
	return i2c.Scan(b)
}

// Header reads the identity header through the system storage.
func (m *MCU) Header() (*header.Header, error) {
	return header.Load(m.Sys.Storage())
}

// Provision writes h as the board identity.
func (m *MCU) Provision(h *header.Header) error {
	h.CalcChecksum()
	if !h.IsKeyValid() {
		return errors.Wrapf(core.ErrInvalidConfiguration, "key %q", h.Key[:])
	}
	if err := header.Save(m.Sys.Storage(), h); err != nil {
		return err
	}
	m.logger.Info("header written", zap.Uint32("id", h.ID), zap.Uint32("version", h.Version))
	return nil
}
