package core

import (
	"fmt"

	"go.uber.org/zap"
)

// LogDev is a character device the system log can be routed to: a UART,
// a USB CDC port, a host terminal. Timeouts are in milliseconds; Infinite
// waits forever.
type LogDev interface {
	Printf(format string, args ...interface{}) int
	Vprintf(format string, args []interface{}) int
	Write(p []byte, timeoutMs uint32) int
	Read(p []byte, timeoutMs uint32) int
}

// DevNull discards everything written to it and never has data to read.
// It is the log device until SetLogDev installs another.
type DevNull struct{}

func (DevNull) Printf(string, ...interface{}) int { return 0 }
func (DevNull) Vprintf(string, []interface{}) int { return 0 }
func (DevNull) Write(p []byte, _ uint32) int { return len(p) }
func (DevNull) Read([]byte, uint32) int { return 0 }

// SetLogDev redirects Log and Vlog to dev. nil restores DevNull.
func (s *System) SetLogDev(dev LogDev) {
	if dev == nil {
		dev = DevNull{}
	}
	s.devMu.Lock()
	s.logDev = dev
	s.devMu.Unlock()
}

// LogDev returns the current log device.
func (s *System) LogDev() LogDev {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	return s.logDev
}

// Log formats to the current log device and returns what the device
// reports as written.
func (s *System) Log(format string, args ...interface{}) int {
	return s.LogDev().Vprintf(format, args)
}

// Vlog is Log with a prepared argument list.
func (s *System) Vlog(format string, args []interface{}) int {
	return s.LogDev().Vprintf(format, args)
}

// ZapDev routes the system log into a zap logger, one entry per call.
// It has nothing to read.
type ZapDev struct {
	sugar *zap.SugaredLogger
}

// NewZapDev wraps logger as a log device.
func NewZapDev(logger *zap.Logger) *ZapDev {
	return &ZapDev{sugar: logger.Sugar()}
}

func (d *ZapDev) Printf(format string, args ...interface{}) int {
	return d.Vprintf(format, args)
}

func (d *ZapDev) Vprintf(format string, args []interface{}) int {
	msg := fmt.Sprintf(format, args...)
	d.sugar.Info(msg)
	return len(msg)
}

func (d *ZapDev) Write(p []byte, _ uint32) int {
	d.sugar.Desugar().Info("log write", zap.ByteString("data", p))
	return len(p)
}

func (d *ZapDev) Read([]byte, uint32) int {
	return 0
}
