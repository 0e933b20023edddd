package header

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"robocore/core"
	"robocore/storage"
)

func provisioned() *Header {
	h := &Header{HeaderVersion: 1, Type: 2, Version: 0x01020304, ID: 0xA0B0C0D0}
	_ = h.SetKey("ABCDEFGHIJ123456789")
	h.CalcChecksum()
	return h
}

// Multi-byte fields are little-endian.
func TestLayoutIsLittleEndian(t *testing.T) {
	h := provisioned()
	b, err := h.MarshalBinary()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(b), test.ShouldEqual, Size)
	test.That(t, b[:10], test.ShouldResemble, []byte{1, 2, 0x04, 0x03, 0x02, 0x01, 0xD0, 0xC0, 0xB0, 0xA0})
	test.That(t, string(b[10:29]), test.ShouldEqual, "ABCDEFGHIJ123456789")
	test.That(t, b[29], test.ShouldEqual, byte(h.Checksum))
	test.That(t, b[30], test.ShouldEqual, byte(h.Checksum>>8))

	var back Header
	test.That(t, back.UnmarshalBinary(b), test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, *h)
	test.That(t, errors.Is(back.UnmarshalBinary(b[:30]), core.ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestChecksumIsDeterministic(t *testing.T) {
	a, b := provisioned(), provisioned()
	test.That(t, a.Checksum, test.ShouldEqual, b.Checksum)
	test.That(t, a.IsValid(), test.ShouldBeTrue)
	test.That(t, a.IsKeyValid(), test.ShouldBeTrue)
	test.That(t, a.Status(), test.ShouldEqual, StatusValid)
	test.That(t, a.Check(), test.ShouldBeNil)
}

func TestEverySingleBitFlipInvalidates(t *testing.T) {
	good, err := provisioned().MarshalBinary()
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < Size*8; i++ {
		b := append([]byte(nil), good...)
		b[i/8] ^= 1 << uint(i%8)
		var h Header
		test.That(t, h.UnmarshalBinary(b), test.ShouldBeNil)
		if h.IsValid() {
			t.Fatalf("bit %d flipped and header still valid", i)
		}
		test.That(t, errors.Is(h.Check(), core.ErrChecksumMismatch), test.ShouldBeTrue)
	}
}

func TestClearPatterns(t *testing.T) {
	var h Header
	test.That(t, h.UnmarshalBinary(bytes.Repeat([]byte{0xFF}, Size)), test.ShouldBeNil)
	test.That(t, h.IsClear(), test.ShouldBeTrue)
	test.That(t, h.IsValid(), test.ShouldBeFalse)
	test.That(t, h.Status(), test.ShouldEqual, StatusClear)
	test.That(t, h.Check(), test.ShouldBeNil)

	var zero Header
	test.That(t, zero.IsClear(), test.ShouldBeTrue)
	test.That(t, zero.Status(), test.ShouldEqual, StatusClear)

	// a blank record with a computed checksum is no longer blank
	zero.CalcChecksum()
	test.That(t, zero.IsClear(), test.ShouldBeFalse)
	test.That(t, zero.IsValid(), test.ShouldBeTrue)
}

func TestKeyFormat(t *testing.T) {
	h := provisioned()
	h.Key[3] = '-'
	h.CalcChecksum()
	test.That(t, h.IsValid(), test.ShouldBeTrue)
	test.That(t, h.IsKeyValid(), test.ShouldBeFalse)

	test.That(t, errors.Is(h.SetKey("short"), core.ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestSaveLoadThroughStore(t *testing.T) {
	store, err := storage.New(storage.NewMemory(256), nil, storage.Record{ID: core.RecordHeader, MaxSize: Size})
	test.That(t, err, test.ShouldBeNil)

	_, err = Load(store)
	test.That(t, errors.Is(err, storage.ErrNotFound), test.ShouldBeTrue)

	h := &Header{HeaderVersion: 1, Type: 7, Version: 3, ID: 1234}
	test.That(t, h.SetKey("0123456789abcdefXYZ"), test.ShouldBeNil)
	test.That(t, Save(store, h), test.ShouldBeNil)

	got, err := Load(store)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.IsValid(), test.ShouldBeTrue)
	test.That(t, got.IsKeyValid(), test.ShouldBeTrue)
	test.That(t, *got, test.ShouldResemble, *h)
}

func TestLoadWithoutStorage(t *testing.T) {
	sys, err := core.New(core.Config{})
	test.That(t, err, test.ShouldBeNil)
	_, err = Load(sys.Storage())
	test.That(t, errors.Is(err, core.ErrNoStorage), test.ShouldBeTrue)
}
