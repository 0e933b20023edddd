//go:build rp2040

package main

import (
	"errors"
	"machine"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// spiPort exposes one RP2040 SPI controller as a periph port. It can be
// connected once; the clock can be changed afterwards through
// LimitSpeed.
type spiPort struct {
	name string
	bus  *machine.SPI
	sck  machine.Pin
	sdo  machine.Pin
	sdi  machine.Pin

	mode      spi.Mode
	connected bool
}

func newSPIPort(name string, bus *machine.SPI, sck, sdo, sdi machine.Pin) *spiPort {
	return &spiPort{name: name, bus: bus, sck: sck, sdo: sdo, sdi: sdi}
}

func (p *spiPort) String() string {
	return p.name
}

func (p *spiPort) configure(f physic.Frequency) error {
	return p.bus.Configure(machine.SPIConfig{
		Frequency: uint32(f / physic.Hertz),
		SCK:       p.sck,
		SDO:       p.sdo,
		SDI:       p.sdi,
		Mode:      uint8(p.mode),
	})
}

// Connect implements spi.Port.
func (p *spiPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.connected {
		return nil, errors.New("spi port already connected")
	}
	if bits != 8 {
		return nil, errors.New("spi port supports 8 bit words only")
	}
	if mode < spi.Mode0 || mode > spi.Mode3 {
		return nil, errors.New("invalid spi mode")
	}
	p.mode = mode
	if err := p.configure(f); err != nil {
		return nil, err
	}
	p.connected = true
	return &spiConn{port: p}, nil
}

// LimitSpeed reprograms the controller clock.
func (p *spiPort) LimitSpeed(f physic.Frequency) error {
	return p.configure(f)
}

func (p *spiPort) Close() error {
	p.connected = false
	return nil
}

type spiConn struct {
	port *spiPort
}

func (c *spiConn) String() string {
	return c.port.name
}

// Tx clocks w out while filling r. The controller handles a nil r as
// write-only and a nil w as clocking out zeros.
func (c *spiConn) Tx(w, r []byte) error {
	return c.port.bus.Tx(w, r)
}

func (c *spiConn) Duplex() conn.Duplex {
	return conn.Full
}

func (c *spiConn) TxPackets(packets []spi.Packet) error {
	for _, p := range packets {
		if err := c.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.PortCloser = (*spiPort)(nil)
