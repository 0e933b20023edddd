package can

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"robocore/core"
)

// ErrDisabled is returned for traffic while the transceiver is disabled.
var ErrDisabled = errors.New("can_disabled")

const (
	// DefaultBitrate is used when Init is given zero.
	DefaultBitrate = 500000

	defaultRxDepth = 32
)

// Option configures a Controller.
type Option func(*Controller)

// WithEnablePin gives the controller the transceiver enable line. It is
// driven high by Enable and low by Disable.
func WithEnablePin(p gpio.PinOut) Option {
	return func(c *Controller) { c.enablePin = p }
}

// WithRxDepth bounds the receive buffer. Frames arriving while it is
// full are dropped and counted.
func WithRxDepth(n int) Option {
	return func(c *Controller) { c.rxDepth = n }
}

// Controller is the board's CAN port. Frames are received by a task
// that filters them into a bounded buffer; WaitFrame takes from it.
type Controller struct {
	name      string
	sys       *core.System
	tr        Transceiver
	enablePin gpio.PinOut
	rxDepth   int
	logger    *zap.Logger

	mu         sync.Mutex
	bitrate    uint32
	enabled    bool
	filterID   uint32
	filterMask uint32
	rx         chan Frame
	stop       context.CancelFunc
	pump       core.TaskHandle

	dropped  atomic.Uint64
	received atomic.Uint64
}

// New builds a controller on tr. Call Init, then Enable.
func New(sys *core.System, name string, tr Transceiver, opts ...Option) *Controller {
	c := &Controller{
		name:    name,
		sys:     sys,
		tr:      tr,
		rxDepth: defaultRxDepth,
		logger:  sys.Logger().Named(name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init sets the bitrate and starts the receive task. The controller
// starts disabled.
func (c *Controller) Init(ctx context.Context, bitrate uint32) error {
	if bitrate == 0 {
		bitrate = DefaultBitrate
	}
	if bitrate > 1000000 {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: bitrate %d", c.name, bitrate)
	}

	c.mu.Lock()
	if c.stop != nil {
		c.bitrate = bitrate
		c.mu.Unlock()
		return nil
	}
	c.bitrate = bitrate
	c.rx = make(chan Frame, c.rxDepth)
	pctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.mu.Unlock()

	if c.enablePin != nil {
		if err := c.enablePin.Out(gpio.Low); err != nil {
			cancel()
			return err
		}
	}
	h, err := c.sys.CreateTask(pctx, c.receive, nil, core.WithName(c.name+"-rx"))
	if err != nil {
		cancel()
		c.mu.Lock()
		c.stop = nil
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.pump = h
	c.mu.Unlock()
	c.logger.Info("can ready", zap.Uint32("bitrate", bitrate))
	return nil
}

// Close stops the receive task.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	stop, pump := c.stop, c.pump
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	_, err := c.sys.Join(ctx, pump, core.Infinite)
	return err
}

// Bitrate returns the configured bitrate.
func (c *Controller) Bitrate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitrate
}

// Enable powers the transceiver and lets traffic through.
func (c *Controller) Enable() error {
	if c.enablePin != nil {
		if err := c.enablePin.Out(gpio.High); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	return nil
}

// Disable stops traffic and powers the transceiver down. Frames already
// buffered stay readable.
func (c *Controller) Disable() error {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
	if c.enablePin != nil {
		return c.enablePin.Out(gpio.Low)
	}
	return nil
}

// Enabled reports whether traffic is allowed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetFilter accepts only frames whose ID matches id on every bit set in
// mask. A zero mask accepts everything.
func (c *Controller) SetFilter(id, mask uint32) {
	c.mu.Lock()
	c.filterID, c.filterMask = id&mask, mask
	c.mu.Unlock()
}

// SendFrame blocks until f is queued for transmission.
func (c *Controller) SendFrame(ctx context.Context, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	enabled, ready := c.enabled, c.stop != nil
	c.mu.Unlock()
	if !ready {
		return errors.Wrapf(core.ErrInvalidConfiguration, "%s: not initialized", c.name)
	}
	if !enabled {
		return errors.Wrapf(ErrDisabled, "%s: send", c.name)
	}
	if err := c.tr.Transmit(ctx, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(core.ErrTransactionFailed, "%s: transmit: %v", c.name, err)
	}
	return nil
}

// WaitFrame returns a buffered frame, or waits up to timeoutMs for one.
// It reports false on timeout or when ctx ends.
func (c *Controller) WaitFrame(ctx context.Context, timeoutMs uint32) (Frame, bool) {
	c.mu.Lock()
	rx := c.rx
	c.mu.Unlock()
	if rx == nil {
		return Frame{}, false
	}
	select {
	case f := <-rx:
		return f, true
	default:
	}
	if timeoutMs == 0 {
		return Frame{}, false
	}

	wctx, cancel := c.sys.WithTimeout(ctx, timeoutMs)
	defer cancel()
	select {
	case f := <-rx:
		c.sys.Resume(ctx)
		return f, true
	case <-wctx.Done():
		if ctx.Err() == nil {
			c.sys.Resume(ctx)
		}
		return Frame{}, false
	}
}

// Dropped returns how many accepted frames were lost to a full buffer.
func (c *Controller) Dropped() uint64 {
	return c.dropped.Load()
}

// Received returns how many frames were buffered.
func (c *Controller) Received() uint64 {
	return c.received.Load()
}

func (c *Controller) receive(ctx context.Context, _ interface{}) {
	in := c.tr.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			c.deliver(f)
		}
	}
}

func (c *Controller) deliver(f Frame) {
	c.mu.Lock()
	enabled, id, mask, rx := c.enabled, c.filterID, c.filterMask, c.rx
	c.mu.Unlock()
	if !enabled || f.ID&mask != id {
		return
	}
	select {
	case rx <- f:
		c.received.Add(1)
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.logger.Warn("rx buffer full, frame dropped", zap.Stringer("frame", f), zap.Uint64("dropped", n))
		}
	}
}
