package bus

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
)

// ErrPinInUse is returned when a pin is already claimed by another owner.
var ErrPinInUse = errors.New("pin_in_use")

// Bank records which driver owns each physical pin, keyed by pin name.
type Bank struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewBank returns an empty registry.
func NewBank() *Bank {
	return &Bank{owners: make(map[string]string)}
}

// Claim gives every pin to owner, or none of them if any is held by
// someone else. Claiming a pin owner already holds is a no-op.
func (b *Bank) Claim(owner string, pins ...gpio.PinIO) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range pins {
		if cur, ok := b.owners[p.Name()]; ok && cur != owner {
			return errors.Wrapf(ErrPinInUse, "%s wanted by %s, held by %s", p.Name(), owner, cur)
		}
	}
	for _, p := range pins {
		b.owners[p.Name()] = owner
	}
	return nil
}

// Release frees every pin held by owner.
func (b *Bank) Release(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pin, cur := range b.owners {
		if cur == owner {
			delete(b.owners, pin)
		}
	}
}

// Owner returns who holds the named pin.
func (b *Bank) Owner(pin string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, ok := b.owners[pin]
	return owner, ok
}
