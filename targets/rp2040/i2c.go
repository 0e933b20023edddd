//go:build rp2040

package main

import (
	"machine"

	"robocore/bus"
	"robocore/bus/i2c"
	"robocore/core"
)

// i2cBusConfig ties an RP2040 I2C controller to the pins it is muxed on.
type i2cBusConfig struct {
	name string
	i2c  *machine.I2C
	sda  machine.Pin
	scl  machine.Pin
}

var (
	// The identity EEPROM sits on GP4/GP5, bit-banged.
	storageBus = i2cBusConfig{name: "i2c0", i2c: machine.I2C0, sda: machine.GPIO4, scl: machine.GPIO5}
	// The expansion header uses the I2C1 controller on GP6/GP7.
	expansionBus = i2cBusConfig{name: "i2c1", i2c: machine.I2C1, sda: machine.GPIO6, scl: machine.GPIO7}
)

// newSoftI2C bit-bangs cfg's pins with the hardware timer delay.
func newSoftI2C(sys *core.System, cfg i2cBusConfig) (*i2c.Soft, error) {
	s := i2c.NewSoft(sys, cfg.name, newPin(cfg.sda, pinName(cfg.sda)), newPin(cfg.scl, pinName(cfg.scl)),
		i2c.WithDelay(busyWait))
	return s, s.Init(i2c.DefaultDataRate)
}

// newHardI2C drives cfg's controller. The pins start in GPIO mode and
// are handed to the controller by SelectPeripheral.
func newHardI2C(sys *core.System, bank *bus.Bank, cfg i2cBusConfig, bps uint32) (*muxedI2C, error) {
	sda, scl := newPin(cfg.sda, pinName(cfg.sda)), newPin(cfg.scl, pinName(cfg.scl))
	group, err := bus.NewGroup(cfg.name, bank, sda, scl)
	if err != nil {
		return nil, err
	}
	m := &muxedI2C{
		Hard: i2c.NewHard(sys, cfg.name, cfg.i2c, group),
		cfg:  cfg,
		bps:  bps,
	}
	if err := m.SelectPeripheral(); err != nil {
		return nil, err
	}
	return m, m.Init(bps)
}

func pinName(p machine.Pin) string {
	return "GP" + itoa(int(p))
}
