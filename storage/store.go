package storage

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"robocore/core"
	"robocore/protocol"
)

var (
	// ErrUnknownRecord is returned for a record id the layout does not
	// define.
	ErrUnknownRecord = errors.New("unknown_record")
	// ErrNotFound is returned when neither slot of a record holds a
	// good copy.
	ErrNotFound = errors.New("not_found")
)

// slot layout: [seq u32][len u16][payload][crc u16], little-endian. The
// CRC covers seq, len and the payload bytes.
const slotOverhead = 4 + 2 + 2

// Record declares one record of the layout.
type Record struct {
	ID      core.RecordID
	MaxSize int
}

type placement struct {
	rec  Record
	base int64
}

func (p placement) slotSize() int64 {
	return int64(p.rec.MaxSize + slotOverhead)
}

func (p placement) slot(i int) int64 {
	return p.base + int64(i)*p.slotSize()
}

type sizer interface {
	Size() int64
}

// Store implements core.Storage over a Device. Records are laid out in
// the order given, from offset zero.
type Store struct {
	dev    Device
	logger *zap.Logger

	mu     sync.Mutex
	places map[core.RecordID]placement
	end    int64
}

// New lays records out on dev. It fails when a record id repeats or the
// layout does not fit a device that reports its size.
func New(dev Device, logger *zap.Logger, records ...Record) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{dev: dev, logger: logger, places: make(map[core.RecordID]placement)}
	for _, r := range records {
		if _, dup := s.places[r.ID]; dup {
			return nil, errors.Wrapf(core.ErrInvalidConfiguration, "record %d declared twice", r.ID)
		}
		if r.MaxSize <= 0 || r.MaxSize > 0xFFFF {
			return nil, errors.Wrapf(core.ErrInvalidConfiguration, "record %d size %d", r.ID, r.MaxSize)
		}
		p := placement{rec: r, base: s.end}
		s.places[r.ID] = p
		s.end += 2 * p.slotSize()
	}
	if sz, ok := dev.(sizer); ok && s.end > sz.Size() {
		return nil, errors.Wrapf(core.ErrInvalidConfiguration, "layout needs %d bytes, device has %d", s.end, sz.Size())
	}
	return s, nil
}

// Footprint returns how many device bytes the layout uses.
func (s *Store) Footprint() int64 {
	return s.end
}

type slotCopy struct {
	seq     uint32
	payload []byte
}

func (s *Store) readSlot(p placement, i int) (slotCopy, error) {
	buf := make([]byte, p.slotSize())
	if _, err := s.dev.ReadAt(buf, p.slot(i)); err != nil {
		return slotCopy{}, errors.Wrapf(err, "record %d slot %d", p.rec.ID, i)
	}
	seq := binary.LittleEndian.Uint32(buf[0:4])
	n := int(binary.LittleEndian.Uint16(buf[4:6]))
	if n > p.rec.MaxSize {
		return slotCopy{}, errors.Wrapf(core.ErrChecksumMismatch, "record %d slot %d length %d", p.rec.ID, i, n)
	}
	want := binary.LittleEndian.Uint16(buf[6+n : 8+n])
	if got := protocol.CRC16(buf[:6+n]); got != want {
		return slotCopy{}, errors.Wrapf(core.ErrChecksumMismatch, "record %d slot %d", p.rec.ID, i)
	}
	return slotCopy{seq: seq, payload: buf[6 : 6+n]}, nil
}

// newest picks the freshest good slot, returning its index, or -1.
func (s *Store) newest(p placement) (int, slotCopy, error) {
	a, errA := s.readSlot(p, 0)
	b, errB := s.readSlot(p, 1)
	switch {
	case errA == nil && errB == nil:
		if int32(b.seq-a.seq) > 0 {
			return 1, b, nil
		}
		return 0, a, nil
	case errA == nil:
		return 0, a, nil
	case errB == nil:
		return 1, b, nil
	}
	return -1, slotCopy{}, multierr.Append(errA, errB)
}

// ReadRecord copies the newest good copy of id into buf and returns its
// length.
func (s *Store) ReadRecord(id core.RecordID, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownRecord, "record %d", id)
	}
	i, c, err := s.newest(p)
	if i < 0 {
		s.logger.Debug("no good copy", zap.Uint8("record", uint8(id)), zap.Error(err))
		return 0, errors.Wrapf(ErrNotFound, "record %d", id)
	}
	if len(buf) < len(c.payload) {
		return 0, errors.Wrapf(core.ErrInvalidConfiguration, "record %d is %d bytes, buffer %d", id, len(c.payload), len(buf))
	}
	return copy(buf, c.payload), nil
}

// WriteRecord stores data as the next version of id, in the slot not
// holding the current version.
func (s *Store) WriteRecord(id core.RecordID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[id]
	if !ok {
		return errors.Wrapf(ErrUnknownRecord, "record %d", id)
	}
	if len(data) > p.rec.MaxSize {
		return errors.Wrapf(core.ErrInvalidConfiguration, "record %d holds %d bytes, got %d", id, p.rec.MaxSize, len(data))
	}

	target, seq := 0, uint32(1)
	if i, c, _ := s.newest(p); i >= 0 {
		target, seq = 1-i, c.seq+1
	}

	buf := make([]byte, 6+len(data)+2)
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(data)))
	copy(buf[6:], data)
	binary.LittleEndian.PutUint16(buf[6+len(data):], protocol.CRC16(buf[:6+len(data)]))

	if _, err := s.dev.WriteAt(buf, p.slot(target)); err != nil {
		return errors.Wrapf(err, "record %d slot %d", id, target)
	}
	s.logger.Debug("record written", zap.Uint8("record", uint8(id)), zap.Int("slot", target), zap.Uint32("seq", seq))
	return nil
}

var _ core.Storage = (*Store)(nil)
