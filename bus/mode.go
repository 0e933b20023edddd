package bus

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"robocore/core"
)

// Mode is the role a shared pin group currently plays.
type Mode uint8

const (
	// ModeGPIO hands the pins to raw GPIO users; bus transactions fail.
	ModeGPIO Mode = iota
	// ModePeripheral routes the pins to the bus controller; GPIO output fails.
	ModePeripheral
)

func (m Mode) String() string {
	if m == ModePeripheral {
		return "peripheral"
	}
	return "gpio"
}

// Group is a set of physical pins that time-share between raw GPIO use
// and a bus peripheral. The switch is always an explicit call; nothing
// changes mode implicitly. Switching to GPIO waits for any transaction
// in flight to finish.
type Group struct {
	name string
	pins []gpio.PinIO

	mu       sync.Mutex
	idle     *sync.Cond
	mode     Mode
	inFlight int
}

// NewGroup binds pins into a group that starts in GPIO mode. When bank is
// non-nil the pins are claimed in it under name.
func NewGroup(name string, bank *Bank, pins ...gpio.PinIO) (*Group, error) {
	if bank != nil {
		if err := bank.Claim(name, pins...); err != nil {
			return nil, err
		}
	}
	g := &Group{name: name, pins: pins}
	g.idle = sync.NewCond(&g.mu)
	return g, nil
}

// Name returns the group's owner name.
func (g *Group) Name() string {
	return g.name
}

// Mode returns the current mode.
func (g *Group) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// SelectGPIO hands the pins to GPIO users once no transaction is running.
func (g *Group) SelectGPIO() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.inFlight > 0 {
		g.idle.Wait()
	}
	g.mode = ModeGPIO
	return nil
}

// SelectPeripheral routes the pins to the bus controller.
func (g *Group) SelectPeripheral() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = ModePeripheral
	return nil
}

// Begin marks a transaction as running and returns the function that
// ends it. It fails with core.ErrModeConflict while in GPIO mode.
func (g *Group) Begin() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != ModePeripheral {
		return nil, errors.Wrapf(core.ErrModeConflict, "%s: pins selected as gpio", g.name)
	}
	g.inFlight++
	return func() {
		g.mu.Lock()
		g.inFlight--
		if g.inFlight == 0 {
			g.idle.Broadcast()
		}
		g.mu.Unlock()
	}, nil
}

// Pin returns pin i of the group wrapped so that driving it fails with
// core.ErrModeConflict while the group is in peripheral mode.
func (g *Group) Pin(i int) gpio.PinIO {
	return &guardedPin{PinIO: g.pins[i], g: g}
}

// Pins returns the raw pins for the bus controller's own use.
func (g *Group) Pins() []gpio.PinIO {
	return g.pins
}

type guardedPin struct {
	gpio.PinIO
	g *Group
}

func (p *guardedPin) Out(l gpio.Level) error {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if p.g.mode != ModeGPIO {
		return errors.Wrapf(core.ErrModeConflict, "%s: %s is routed to the peripheral", p.g.name, p.PinIO.Name())
	}
	return p.PinIO.Out(l)
}

func (p *guardedPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.g.mu.Lock()
	defer p.g.mu.Unlock()
	if p.g.mode != ModeGPIO {
		return errors.Wrapf(core.ErrModeConflict, "%s: %s is routed to the peripheral", p.g.name, p.PinIO.Name())
	}
	return p.PinIO.In(pull, edge)
}
