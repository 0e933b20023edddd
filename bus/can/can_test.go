package can

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"robocore/core"
)

func newController(t *testing.T, tr Transceiver, opts ...Option) *Controller {
	t.Helper()
	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	c := New(sys, "can0", tr, opts...)
	test.That(t, c.Init(context.Background(), 0), test.ShouldBeNil)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestFrameValidate(t *testing.T) {
	f, err := NewFrame(0x123, []byte{1, 2, 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Extended, test.ShouldBeFalse)
	test.That(t, f.Payload(), test.ShouldResemble, []byte{1, 2, 3})

	f, err = NewFrame(0x18DAF110, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Extended, test.ShouldBeTrue)

	_, err = NewFrame(0x1, make([]byte, 9))
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)

	bad := Frame{ID: 0x800}
	test.That(t, errors.Is(bad.Validate(), core.ErrInvalidConfiguration), test.ShouldBeTrue)
	bad = Frame{ID: 0x20000000, Extended: true}
	test.That(t, errors.Is(bad.Validate(), core.ErrInvalidConfiguration), test.ShouldBeTrue)
	bad = Frame{ID: 1, Len: 9}
	test.That(t, errors.Is(bad.Validate(), core.ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestLoopbackRoundTrip(t *testing.T) {
	c := newController(t, NewLoopback(4))
	test.That(t, c.Bitrate(), test.ShouldEqual, uint32(DefaultBitrate))
	test.That(t, c.Enable(), test.ShouldBeNil)

	ctx := context.Background()
	f, err := NewFrame(0x42, []byte{0xDE, 0xAD})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.SendFrame(ctx, f), test.ShouldBeNil)

	got, ok := c.WaitFrame(ctx, 1000)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, f)
	test.That(t, c.Received(), test.ShouldEqual, uint64(1))
}

func TestWaitFrameTimesOut(t *testing.T) {
	c := newController(t, NewLoopback(4))
	test.That(t, c.Enable(), test.ShouldBeNil)

	_, ok := c.WaitFrame(context.Background(), 0)
	test.That(t, ok, test.ShouldBeFalse)

	start := time.Now()
	_, ok = c.WaitFrame(context.Background(), 20)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, 20*time.Millisecond)
}

func TestDisabledRefusesTraffic(t *testing.T) {
	en := &gpiotest.Pin{N: "GP20", Num: 20}
	c := newController(t, NewLoopback(4), WithEnablePin(en))
	test.That(t, en.L, test.ShouldEqual, gpio.Low)

	f, _ := NewFrame(0x10, []byte{1})
	err := c.SendFrame(context.Background(), f)
	test.That(t, errors.Is(err, ErrDisabled), test.ShouldBeTrue)

	test.That(t, c.Enable(), test.ShouldBeNil)
	test.That(t, en.L, test.ShouldEqual, gpio.High)
	test.That(t, c.Enabled(), test.ShouldBeTrue)

	test.That(t, c.Disable(), test.ShouldBeNil)
	test.That(t, en.L, test.ShouldEqual, gpio.Low)
}

func TestPairFilterAndOverflow(t *testing.T) {
	a, b := NewPair(16)
	tx := newController(t, a)
	rx := newController(t, b, WithRxDepth(2))
	test.That(t, tx.Enable(), test.ShouldBeNil)
	test.That(t, rx.Enable(), test.ShouldBeNil)
	rx.SetFilter(0x100, 0x700)

	ctx := context.Background()
	ignored, _ := NewFrame(0x200, []byte{0})
	test.That(t, tx.SendFrame(ctx, ignored), test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		f, _ := NewFrame(0x100+uint32(i), []byte{byte(i)})
		test.That(t, tx.SendFrame(ctx, f), test.ShouldBeNil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rx.Dropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, rx.Dropped(), test.ShouldEqual, uint64(3))
	test.That(t, rx.Received(), test.ShouldEqual, uint64(2))

	first, ok := rx.WaitFrame(ctx, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first.ID, test.ShouldEqual, uint32(0x100))
	second, ok := rx.WaitFrame(ctx, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, second.ID, test.ShouldEqual, uint32(0x101))
	_, ok = rx.WaitFrame(ctx, 0)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSendRequiresInit(t *testing.T) {
	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	c := New(sys, "can1", NewLoopback(1))
	f, _ := NewFrame(1, nil)
	err = c.SendFrame(context.Background(), f)
	test.That(t, errors.Is(err, core.ErrInvalidConfiguration), test.ShouldBeTrue)
	_, ok := c.WaitFrame(context.Background(), 0)
	test.That(t, ok, test.ShouldBeFalse)
}
