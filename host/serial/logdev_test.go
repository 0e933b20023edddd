package serial

import (
	"context"
	"io"
	"testing"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"robocore/core"
	"robocore/protocol"
)

// pipePort is one end of an in-memory link.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipePort) Flush() error                { return nil }
func (p *pipePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

// link returns the device end and the peer end.
func link() (*pipePort, *pipePort) {
	toDev, fromPeer := io.Pipe()
	toPeer, fromDev := io.Pipe()
	return &pipePort{r: toDev, w: fromDev}, &pipePort{r: toPeer, w: fromPeer}
}

func TestDeviceReadsLines(t *testing.T) {
	port, peer := link()
	dev := NewDevice(port, nil, zaptest.NewLogger(t))
	defer dev.Close()

	go peer.Write([]byte("0.5,-0.5\r\nstop\n"))

	r := protocol.NewLineReader(dev.Read, 50)
	got, err := r.ReadLine(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, "0.5,-0.5")
	got, err = r.ReadLine(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, "stop")
}

func TestDevicePrintf(t *testing.T) {
	port, peer := link()
	dev := NewDevice(port, nil, zaptest.NewLogger(t))
	defer dev.Close()

	test.That(t, dev.Printf("left = %d, right = %d\n", 500, -250), test.ShouldEqual, 25)
	test.That(t, dev.Vprintf("%s\n", []interface{}{"ok"}), test.ShouldEqual, 3)

	buf := make([]byte, 28)
	_, err := io.ReadFull(peer, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf), test.ShouldEqual, "left = 500, right = -250\nok\n")
}

func TestDeviceReadTimeout(t *testing.T) {
	port, _ := link()
	dev := NewDevice(port, nil, zaptest.NewLogger(t))
	defer dev.Close()

	buf := make([]byte, 4)
	test.That(t, dev.Read(buf, 0), test.ShouldEqual, 0)
	test.That(t, dev.Read(buf, 5), test.ShouldEqual, 0)
	test.That(t, dev.Read(nil, core.Infinite), test.ShouldEqual, 0)
}

func TestDeviceAsSystemLog(t *testing.T) {
	port, peer := link()
	dev := NewDevice(port, nil, zaptest.NewLogger(t))
	defer dev.Close()

	sys, err := core.New(core.Config{Logger: zaptest.NewLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	sys.SetLogDev(dev)

	test.That(t, sys.Log("boot %s\n", "ok"), test.ShouldEqual, 8)
	buf := make([]byte, 8)
	_, err = io.ReadFull(peer, buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(buf), test.ShouldEqual, "boot ok\n")
}

func TestDeviceClose(t *testing.T) {
	port, _ := link()
	dev := NewDevice(port, nil, zaptest.NewLogger(t))
	test.That(t, dev.Close(), test.ShouldBeNil)
	test.That(t, dev.Close(), test.ShouldBeNil)
	test.That(t, dev.Write([]byte("late"), 0), test.ShouldEqual, 0)
}
