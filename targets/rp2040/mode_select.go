//go:build rp2040

package main

import (
	"machine"

	"robocore/bus/i2c"
)

// muxedI2C adds the RP2040 pin mux to a hardware I2C bus: selecting GPIO
// parks both pins as pulled-up inputs, selecting the peripheral routes
// them back to the controller.
type muxedI2C struct {
	*i2c.Hard
	cfg i2cBusConfig
	bps uint32
}

// SelectGPIO waits for the bus to go idle, then releases the pins.
func (m *muxedI2C) SelectGPIO() error {
	if err := m.Hard.SelectGPIO(); err != nil {
		return err
	}
	m.cfg.sda.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	m.cfg.scl.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return nil
}

// SelectPeripheral re-muxes the pins to the controller.
func (m *muxedI2C) SelectPeripheral() error {
	if err := m.cfg.i2c.Configure(machine.I2CConfig{
		Frequency: m.bps,
		SDA:       m.cfg.sda,
		SCL:       m.cfg.scl,
	}); err != nil {
		return err
	}
	return m.Hard.SelectPeripheral()
}

// SelectI2C is SelectPeripheral.
func (m *muxedI2C) SelectI2C() error {
	return m.SelectPeripheral()
}
