// Package can drives the board's CAN controller: frames, the transceiver
// the controller talks through, and an in-memory loopback transceiver.
package can

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"robocore/core"
)

const (
	maxStandardID = 0x7FF
	maxExtendedID = 0x1FFFFFFF
)

// Frame is one classic CAN data or remote frame.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	Len      uint8
	Data     [8]byte
}

// NewFrame builds a standard data frame carrying payload.
func NewFrame(id uint32, payload []byte) (Frame, error) {
	f := Frame{ID: id, Len: uint8(len(payload))}
	if len(payload) > len(f.Data) {
		return Frame{}, errors.Wrapf(core.ErrInvalidConfiguration, "can payload %d bytes", len(payload))
	}
	copy(f.Data[:], payload)
	f.Extended = id > maxStandardID
	return f, f.Validate()
}

// Validate checks the identifier against its format and the length
// against the 8 byte limit.
func (f Frame) Validate() error {
	limit := uint32(maxStandardID)
	if f.Extended {
		limit = maxExtendedID
	}
	if f.ID > limit {
		return errors.Wrapf(core.ErrInvalidConfiguration, "can id %#x out of range", f.ID)
	}
	if f.Len > 8 {
		return errors.Wrapf(core.ErrInvalidConfiguration, "can frame length %d", f.Len)
	}
	return nil
}

// Payload returns the used part of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

func (f Frame) String() string {
	kind := "std"
	if f.Extended {
		kind = "ext"
	}
	if f.Remote {
		return fmt.Sprintf("%s %#x remote len=%d", kind, f.ID, f.Len)
	}
	return fmt.Sprintf("%s %#x [% x]", kind, f.ID, f.Payload())
}

// Transceiver moves frames between the controller and the wire.
type Transceiver interface {
	// Transmit blocks until f is queued on the wire or ctx ends.
	Transmit(ctx context.Context, f Frame) error
	// Receive delivers frames taken off the wire.
	Receive() <-chan Frame
}

// Loopback is an in-memory transceiver. Frames transmitted on one end
// arrive on its peer; a lone loopback is its own peer.
type Loopback struct {
	in   chan Frame
	peer *Loopback

	closeOnce sync.Once
}

// NewLoopback returns a transceiver that hears its own frames, with a
// wire queue depth frames deep.
func NewLoopback(depth int) *Loopback {
	l := &Loopback{in: make(chan Frame, depth)}
	l.peer = l
	return l
}

// NewPair returns two transceivers wired to each other.
func NewPair(depth int) (*Loopback, *Loopback) {
	a := &Loopback{in: make(chan Frame, depth)}
	b := &Loopback{in: make(chan Frame, depth)}
	a.peer, b.peer = b, a
	return a, b
}

// Transmit implements Transceiver.
func (l *Loopback) Transmit(ctx context.Context, f Frame) error {
	select {
	case l.peer.in <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Transceiver.
func (l *Loopback) Receive() <-chan Frame {
	return l.in
}

// Close ends the receive channel.
func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.in) })
	return nil
}
