// Package serial connects the host side of the board to a serial link and
// exposes it as the system log device.
package serial

import (
	"io"
)

// Port is a byte stream to the other end of the link. Native ports come
// from Open; tests use pipes.
type Port interface {
	io.ReadWriteCloser

	Flush() error
}

// Config holds serial port settings.
type Config struct {
	// Device path, e.g. /dev/ttyACM0 or COM3.
	Device string

	Baud int

	// ReadTimeout in milliseconds; 0 blocks.
	ReadTimeout int
}

// DefaultConfig returns the board's stock link settings.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
