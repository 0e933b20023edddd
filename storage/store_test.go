package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"robocore/bus/i2c"
	"robocore/core"
	"robocore/host/pinsim"
)

const recordConfig core.RecordID = 1

func newStore(t *testing.T, dev Device) *Store {
	t.Helper()
	s, err := New(dev, zaptest.NewLogger(t),
		Record{ID: core.RecordHeader, MaxSize: 31},
		Record{ID: recordConfig, MaxSize: 64},
	)
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestStoreReadBeforeWrite(t *testing.T) {
	s := newStore(t, NewMemory(1024))
	_, err := s.ReadRecord(core.RecordHeader, make([]byte, 31))
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	_, err = s.ReadRecord(9, make([]byte, 8))
	test.That(t, errors.Is(err, ErrUnknownRecord), test.ShouldBeTrue)
	test.That(t, errors.Is(s.WriteRecord(9, nil), ErrUnknownRecord), test.ShouldBeTrue)
}

func TestStoreAlternatesSlots(t *testing.T) {
	mem := NewMemory(1024)
	s := newStore(t, mem)

	for i := byte(1); i <= 5; i++ {
		test.That(t, s.WriteRecord(recordConfig, []byte{i, i, i}), test.ShouldBeNil)
		buf := make([]byte, 64)
		n, err := s.ReadRecord(recordConfig, buf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, buf[:n], test.ShouldResemble, []byte{i, i, i})
	}
	test.That(t, mem.Writes(), test.ShouldEqual, 5)

	// records do not overlap
	_, err := s.ReadRecord(core.RecordHeader, make([]byte, 31))
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
}

func TestStoreSurvivesTornWrite(t *testing.T) {
	mem := NewMemory(1024)
	s := newStore(t, mem)
	test.That(t, s.WriteRecord(recordConfig, []byte("first")), test.ShouldBeNil)
	test.That(t, s.WriteRecord(recordConfig, []byte("second")), test.ShouldBeNil)

	mem.TearNextWrite(5)
	err := s.WriteRecord(recordConfig, []byte("third!"))
	test.That(t, errors.Is(err, ErrTornWrite), test.ShouldBeTrue)

	buf := make([]byte, 64)
	n, err := s.ReadRecord(recordConfig, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "second")

	// the next write replaces the torn slot again
	test.That(t, s.WriteRecord(recordConfig, []byte("third")), test.ShouldBeNil)
	n, err = s.ReadRecord(recordConfig, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf[:n]), test.ShouldEqual, "third")
}

func TestStoreSizeLimits(t *testing.T) {
	s := newStore(t, NewMemory(1024))
	err := s.WriteRecord(core.RecordHeader, make([]byte, 32))
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)

	test.That(t, s.WriteRecord(core.RecordHeader, make([]byte, 31)), test.ShouldBeNil)
	_, err = s.ReadRecord(core.RecordHeader, make([]byte, 10))
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestStoreLayoutValidation(t *testing.T) {
	_, err := New(NewMemory(64), nil, Record{ID: 0, MaxSize: 31})
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)

	_, err = New(NewMemory(1024), nil, Record{ID: 0, MaxSize: 8}, Record{ID: 0, MaxSize: 8})
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)

	s, err := New(NewMemory(78), nil, Record{ID: 0, MaxSize: 31})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Footprint(), test.ShouldEqual, int64(78))
}

func TestStoreOnSystem(t *testing.T) {
	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	sys.SetStorage(newStore(t, NewMemory(1024)))

	test.That(t, sys.Storage().WriteRecord(recordConfig, []byte{42}), test.ShouldBeNil)
	buf := make([]byte, 1)
	n, err := sys.Storage().ReadRecord(recordConfig, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf[:n], test.ShouldResemble, []byte{42})
}

func TestStoreOnEEPROMOverSoftI2C(t *testing.T) {
	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)

	board := pinsim.NewBoard()
	chip := pinsim.NewEEPROM(4096)
	board.AttachI2C("sda", "scl", 0x50, chip)
	b := i2c.NewSoft(sys, "i2c0", board.Pin("GP4", 4, "sda"), board.Pin("GP5", 5, "scl"),
		i2c.WithDelay(func(time.Duration) {}))
	test.That(t, b.Init(100000), test.ShouldBeNil)

	dev := NewEEPROM(b, 0x50, 4096, 32)
	s := newStore(t, dev)

	payload := bytes.Repeat([]byte{0x5A}, 40)
	test.That(t, s.WriteRecord(recordConfig, payload), test.ShouldBeNil)
	test.That(t, chip.Writes(), test.ShouldBeGreaterThanOrEqualTo, 2)

	buf := make([]byte, 64)
	n, err := s.ReadRecord(recordConfig, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf[:n], test.ShouldResemble, payload)

	// the record sits after the two header slots on the chip
	raw := chip.Bytes()
	test.That(t, raw[2*(31+slotOverhead)+6], test.ShouldEqual, byte(0x5A))
}
