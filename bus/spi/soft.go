package spi

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"

	"robocore/bus"
	"robocore/core"
)

// Soft is an SPI controller bit-banged on three GPIO lines, MSB first.
type Soft struct {
	name   string
	sclk   gpio.PinOut
	mosi   gpio.PinOut
	miso   gpio.PinIn
	lock   *bus.Lock
	logger *zap.Logger
	delay  func(time.Duration)

	mu         sync.Mutex
	mode       spi.Mode
	rate       uint32
	halfPeriod time.Duration
	cpol       bool // clock idles high
	cpha       bool // sample on the trailing edge
	ready      bool
}

// NewSoft builds a bit-banged bus. delay waits for one half clock
// period; nil uses time.Sleep.
func NewSoft(sys *core.System, name string, sclk, mosi gpio.PinOut, miso gpio.PinIn, delay func(time.Duration)) *Soft {
	if delay == nil {
		delay = time.Sleep
	}
	return &Soft{
		name:   name,
		sclk:   sclk,
		mosi:   mosi,
		miso:   miso,
		lock:   bus.NewLock(sys, name, defaultBusTimeoutMs),
		logger: sys.Logger().Named(name),
		delay:  delay,
	}
}

func (s *Soft) String() string {
	return s.name
}

// Init sets the mode and clock rate in Hz and parks the clock at its
// idle level. A zero rate means 100 kHz.
func (s *Soft) Init(mode spi.Mode, rate uint32) error {
	var cpol, cpha bool
	switch mode {
	case spi.Mode0:
	case spi.Mode1:
		cpha = true
	case spi.Mode2:
		cpol = true
	case spi.Mode3:
		cpol, cpha = true, true
	default:
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: spi mode %d", s.name, mode)
	}

	half := 5 * time.Microsecond
	if rate > 0 {
		half = time.Duration(500000000/rate) * time.Nanosecond
	}

	if err := s.miso.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return err
	}
	if err := s.sclk.Out(gpio.Level(cpol)); err != nil {
		return err
	}
	if err := s.mosi.Out(gpio.Low); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode, s.rate, s.halfPeriod = mode, rate, half
	s.cpol, s.cpha = cpol, cpha
	s.ready = true
	s.mu.Unlock()
	s.logger.Debug("soft spi ready", zap.Int("mode", int(mode)), zap.Duration("half_period", half))
	return nil
}

// Deinit refuses further transfers until Init.
func (s *Soft) Deinit() error {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return nil
}

// HalfPeriod returns the delay between clock edges.
func (s *Soft) HalfPeriod() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfPeriod
}

// Write clocks data out.
func (s *Soft) Write(data []byte) error {
	return s.transfer(data, nil)
}

// Read clocks out zeros and keeps what comes back.
func (s *Soft) Read(data []byte) error {
	return s.transfer(make([]byte, len(data)), data)
}

// RW is a full duplex transfer; tx and rx must be the same length.
func (s *Soft) RW(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: tx %d bytes, rx %d bytes", s.name, len(tx), len(rx))
	}
	return s.transfer(tx, rx)
}

// Tx implements drivers.SPI.
func (s *Soft) Tx(w, r []byte) error {
	switch {
	case w == nil:
		return s.Read(r)
	case r == nil:
		return s.Write(w)
	default:
		return s.RW(w, r)
	}
}

// Transfer implements drivers.SPI.
func (s *Soft) Transfer(b byte) (byte, error) {
	rx := make([]byte, 1)
	err := s.RW([]byte{b}, rx)
	return rx[0], err
}

func (s *Soft) transfer(tx, rx []byte) error {
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
	for i, b := range tx {
		in, err := s.transferByte(b)
		if err != nil {
			return err
		}
		if rx != nil {
			rx[i] = in
		}
	}
	return nil
}

func (s *Soft) transferByte(out byte) (byte, error) {
	s.mu.Lock()
	cpol, cpha, half := s.cpol, s.cpha, s.halfPeriod
	s.mu.Unlock()
	idle, active := gpio.Level(cpol), gpio.Level(!cpol)

	var in byte
	for bit := 7; bit >= 0; bit-- {
		level := gpio.Level(out&(1<<uint(bit)) != 0)
		if !cpha {
			if err := s.mosi.Out(level); err != nil {
				return 0, err
			}
			s.delay(half)
		}
		if err := s.sclk.Out(active); err != nil {
			return 0, err
		}
		if cpha {
			if err := s.mosi.Out(level); err != nil {
				return 0, err
			}
		} else if s.miso.Read() {
			in |= 1 << uint(bit)
		}
		s.delay(half)
		if err := s.sclk.Out(idle); err != nil {
			return 0, err
		}
		if cpha {
			if s.miso.Read() {
				in |= 1 << uint(bit)
			}
			s.delay(half)
		}
	}
	return in, nil
}

var (
	_ bus.SPI     = (*Soft)(nil)
	_ drivers.SPI = (*Soft)(nil)
)
