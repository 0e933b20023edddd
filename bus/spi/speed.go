// Package spi provides the board's SPI controllers: a wrapper around a
// hardware port and a bit-banged bus on three GPIO lines.
package spi

import (
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"

	"robocore/core"
)

// Speed is one of the clock steps the SPI peripheral divider can hit,
// in kHz.
type Speed uint32

// Supported clock steps, fastest first. Each is half the one before.
const (
	Speed42MHz    Speed = 42000
	Speed21MHz    Speed = 21000
	Speed10500kHz Speed = 10500
	Speed5250kHz  Speed = 5250
	Speed2625kHz  Speed = 2625
	Speed1312kHz  Speed = 1312
	Speed656kHz   Speed = 656
	Speed328kHz   Speed = 328
)

var speeds = []Speed{
	Speed42MHz, Speed21MHz, Speed10500kHz, Speed5250kHz,
	Speed2625kHz, Speed1312kHz, Speed656kHz, Speed328kHz,
}

// Speeds lists the supported steps, fastest first.
func Speeds() []Speed {
	return append([]Speed(nil), speeds...)
}

// ParseSpeed maps a kHz value onto a supported step.
func ParseSpeed(kHz uint32) (Speed, error) {
	for _, s := range speeds {
		if uint32(s) == kHz {
			return s, nil
		}
	}
	return 0, errors.Wrapf(core.ErrInvalidConfiguration, "spi speed %d kHz", kHz)
}

// Frequency returns the step as a periph frequency.
func (s Speed) Frequency() physic.Frequency {
	return physic.Frequency(s) * physic.KiloHertz
}

// Valid reports whether s is a supported step.
func (s Speed) Valid() bool {
	_, err := ParseSpeed(uint32(s))
	return err == nil
}

func (s Speed) String() string {
	return fmt.Sprintf("%dkHz", uint32(s))
}
