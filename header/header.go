// Package header reads, validates and writes the board identity record
// kept in non-volatile storage.
//
// The record is 31 packed bytes, multi-byte fields little-endian:
//
//	off  size  field
//	0    1     HeaderVersion
//	1    1     Type
//	2    4     Version
//	6    4     ID
//	10   19    Key
//	29   2     Checksum, CRC16 over bytes 0..28
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"robocore/core"
	"robocore/protocol"
)

const (
	// Size is the encoded length of a header.
	Size = 31
	// KeySize is the length of the key field.
	KeySize = 19

	checksumOffset = 29
)

// Status classifies a stored header.
type Status int

const (
	// StatusClear is an unprovisioned board: the record is blank.
	StatusClear Status = iota
	// StatusValid is a provisioned board with a matching checksum.
	StatusValid
	// StatusCorrupt is neither blank nor checksum-consistent.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusClear:
		return "clear"
	case StatusValid:
		return "valid"
	default:
		return "corrupt"
	}
}

// Header is the board identity record.
type Header struct {
	HeaderVersion uint8
	Type          uint8
	Version       uint32
	ID            uint32
	Key           [KeySize]byte
	Checksum      uint16
}

// MarshalBinary encodes the header in its stored layout.
func (h *Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, Size)
	h.put(b)
	return b, nil
}

func (h *Header) put(b []byte) {
	b[0] = h.HeaderVersion
	b[1] = h.Type
	binary.LittleEndian.PutUint32(b[2:6], h.Version)
	binary.LittleEndian.PutUint32(b[6:10], h.ID)
	copy(b[10:checksumOffset], h.Key[:])
	binary.LittleEndian.PutUint16(b[checksumOffset:], h.Checksum)
}

// UnmarshalBinary decodes exactly Size bytes.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return errors.Wrapf(core.ErrInvalidConfiguration, "header is %d bytes, want %d", len(b), Size)
	}
	h.HeaderVersion = b[0]
	h.Type = b[1]
	h.Version = binary.LittleEndian.Uint32(b[2:6])
	h.ID = binary.LittleEndian.Uint32(b[6:10])
	copy(h.Key[:], b[10:checksumOffset])
	h.Checksum = binary.LittleEndian.Uint16(b[checksumOffset:])
	return nil
}

// checksum computes the CRC over every encoded byte before the checksum
// field.
func (h *Header) checksum() uint16 {
	var b [Size]byte
	h.put(b[:])
	return protocol.CRC16(b[:checksumOffset])
}

// CalcChecksum stores the checksum of the current content.
func (h *Header) CalcChecksum() {
	h.Checksum = h.checksum()
}

// IsClear reports whether the record is blank: all 0xFF as erased
// EEPROM reads, or all zero.
func (h *Header) IsClear() bool {
	var b [Size]byte
	h.put(b[:])
	ff, zero := true, true
	for _, c := range b {
		ff = ff && c == 0xFF
		zero = zero && c == 0x00
	}
	return ff || zero
}

// IsValid reports whether the record is provisioned and its checksum
// matches its content.
func (h *Header) IsValid() bool {
	return !h.IsClear() && h.checksum() == h.Checksum
}

// IsKeyValid reports whether the record is valid and its key is all
// ASCII letters and digits.
func (h *Header) IsKeyValid() bool {
	if !h.IsValid() {
		return false
	}
	for _, c := range h.Key {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

// Status classifies the record.
func (h *Header) Status() Status {
	switch {
	case h.IsClear():
		return StatusClear
	case h.IsValid():
		return StatusValid
	default:
		return StatusCorrupt
	}
}

// Check returns core.ErrChecksumMismatch for a corrupt record. A clear
// record is not an error.
func (h *Header) Check() error {
	if h.Status() == StatusCorrupt {
		return errors.Wrapf(core.ErrChecksumMismatch, "header stored %#04x computed %#04x", h.Checksum, h.checksum())
	}
	return nil
}

// SetKey copies key into the key field. It must be exactly KeySize
// bytes.
func (h *Header) SetKey(key string) error {
	if len(key) != KeySize {
		return errors.Wrapf(core.ErrInvalidConfiguration, "key is %d bytes, want %d", len(key), KeySize)
	}
	copy(h.Key[:], key)
	return nil
}

func (h *Header) String() string {
	return fmt.Sprintf("header v%d type=%d version=%d id=%d key=%q checksum=%#04x (%s)",
		h.HeaderVersion, h.Type, h.Version, h.ID, h.Key[:], h.Checksum, h.Status())
}

// Load reads the header record from store.
func Load(store core.Storage) (*Header, error) {
	buf := make([]byte, Size)
	n, err := store.ReadRecord(core.RecordHeader, buf)
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	h := &Header{}
	if err := h.UnmarshalBinary(buf[:n]); err != nil {
		return nil, err
	}
	return h, nil
}

// Save recomputes h's checksum and writes the whole record.
func Save(store core.Storage, h *Header) error {
	h.CalcChecksum()
	b, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	return errors.Wrap(store.WriteRecord(core.RecordHeader, b), "write header")
}
