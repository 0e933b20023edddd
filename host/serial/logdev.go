package serial

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"robocore/core"
)

const (
	rxBufferSize = 4096
	txQueueDepth = 64
)

// Device turns a serial port into the system log device. A reader pump
// buffers incoming bytes and a writer pump drains queued output, so
// Read and Write can honour their timeouts against a blocking port.
type Device struct {
	port   Port
	clk    clock.Clock
	logger *zap.Logger

	rx chan byte
	tx chan []byte

	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once
	closeErr  error
	closing   atomic.Bool
	dropped   atomic.Uint64
}

// NewDevice starts the pumps on port. clk times Read and Write; nil uses
// the wall clock.
func NewDevice(port Port, clk clock.Clock, logger *zap.Logger) *Device {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	d := &Device{
		port:   port,
		clk:    clk,
		logger: logger,
		rx:     make(chan byte, rxBufferSize),
		tx:     make(chan []byte, txQueueDepth),
		cancel: cancel,
		g:      g,
	}
	g.Go(d.readPump)
	g.Go(func() error { return d.writePump(ctx) })
	return d
}

func (d *Device) readPump() error {
	buf := make([]byte, 256)
	for {
		n, err := d.port.Read(buf)
		for _, b := range buf[:n] {
			select {
			case d.rx <- b:
			default:
				d.dropped.Add(1)
			}
		}
		if err != nil {
			if d.closing.Load() {
				return nil
			}
			return err
		}
	}
}

func (d *Device) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-d.tx:
			if _, err := d.port.Write(p); err != nil {
				if d.closing.Load() {
					return nil
				}
				return err
			}
		}
	}
}

// Printf implements core.LogDev.
func (d *Device) Printf(format string, args ...interface{}) int {
	return d.Write([]byte(fmt.Sprintf(format, args...)), core.Infinite)
}

// Vprintf implements core.LogDev.
func (d *Device) Vprintf(format string, args []interface{}) int {
	return d.Printf(format, args...)
}

// Write queues p for the port, waiting up to timeoutMs for room. It
// returns len(p), or 0 when nothing was queued.
func (d *Device) Write(p []byte, timeoutMs uint32) int {
	if len(p) == 0 || d.closing.Load() {
		return 0
	}
	out := append([]byte(nil), p...)
	select {
	case d.tx <- out:
		return len(p)
	default:
	}
	if timeoutMs == 0 {
		return 0
	}
	expired, stop := d.after(timeoutMs)
	defer stop()
	select {
	case d.tx <- out:
		return len(p)
	case <-expired:
		return 0
	}
}

// Read waits up to timeoutMs for the first byte, then takes whatever
// else is already buffered, up to len(p).
func (d *Device) Read(p []byte, timeoutMs uint32) int {
	if len(p) == 0 {
		return 0
	}
	select {
	case p[0] = <-d.rx:
	default:
		if timeoutMs == 0 {
			return 0
		}
		expired, stop := d.after(timeoutMs)
		defer stop()
		select {
		case p[0] = <-d.rx:
		case <-expired:
			return 0
		}
	}
	n := 1
	for n < len(p) {
		select {
		case p[n] = <-d.rx:
			n++
		default:
			return n
		}
	}
	return n
}

// after returns a channel that fires after timeoutMs, never for
// core.Infinite.
func (d *Device) after(timeoutMs uint32) (<-chan time.Time, func()) {
	if timeoutMs == core.Infinite {
		return nil, func() {}
	}
	t := d.clk.Timer(time.Duration(timeoutMs) * time.Millisecond)
	return t.C, func() { t.Stop() }
}

// Dropped counts input bytes lost to a full receive buffer.
func (d *Device) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the pumps and closes the port.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		d.cancel()
		d.closeErr = multierr.Combine(d.port.Close(), d.g.Wait())
		if d.closeErr != nil {
			d.logger.Warn("serial close", zap.Error(d.closeErr))
		}
	})
	return d.closeErr
}

var _ core.LogDev = (*Device)(nil)
