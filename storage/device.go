// Package storage keeps fixed-size records in a small non-volatile
// device such as an I2C EEPROM. Every record has two slots written
// alternately, so a write torn by a reset leaves the previous version
// readable.
package storage

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
)

// Device is byte-addressable non-volatile memory.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// ErrTornWrite is returned by Memory for an injected power cut.
var ErrTornWrite = errors.New("torn_write")

// Memory is an in-memory EEPROM, erased to 0xFF.
type Memory struct {
	mu        sync.Mutex
	mem       []byte
	tearAfter int
	writes    int
}

// NewMemory returns size bytes of erased memory.
func NewMemory(size int) *Memory {
	m := &Memory{mem: make([]byte, size), tearAfter: -1}
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return m
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.mem)) {
		return 0, errors.Errorf("read %d bytes at %d outside %d byte device", len(p), off, len(m.mem))
	}
	return copy(p, m.mem[off:]), nil
}

// WriteAt implements io.WriterAt. After TearNextWrite only the first
// bytes of the next write land.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.mem)) {
		return 0, errors.Errorf("write %d bytes at %d outside %d byte device", len(p), off, len(m.mem))
	}
	m.writes++
	if m.tearAfter >= 0 {
		n := m.tearAfter
		if n > len(p) {
			n = len(p)
		}
		m.tearAfter = -1
		copy(m.mem[off:], p[:n])
		return n, ErrTornWrite
	}
	return copy(m.mem[off:], p), nil
}

// TearNextWrite makes the next write stop after n bytes, as a power cut
// in the middle of a page write would.
func (m *Memory) TearNextWrite(n int) {
	m.mu.Lock()
	m.tearAfter = n
	m.mu.Unlock()
}

// Size returns the device capacity.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.mem))
}

// Writes counts WriteAt calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns a copy of the contents.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.mem...)
}

// EEPROM is a 24Cxx part on an I2C bus.
type EEPROM struct {
	*at24cx.Device
	size int64
}

// NewEEPROM configures a 24Cxx at addr with the given capacity and page
// size. Zero addr uses the part's default address.
func NewEEPROM(i2c drivers.I2C, addr uint16, size, pageSize uint16) *EEPROM {
	dev := at24cx.New(i2c)
	if addr != 0 {
		dev.Address = addr
	}
	dev.Configure(at24cx.Config{PageSize: pageSize, EndRAMAddress: size})
	return &EEPROM{Device: &dev, size: int64(size)}
}

// Size returns the device capacity.
func (e *EEPROM) Size() int64 {
	return e.size
}

var (
	_ Device = (*Memory)(nil)
	_ Device = (*EEPROM)(nil)
)
