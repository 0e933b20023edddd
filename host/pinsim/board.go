// Package pinsim simulates the board's GPIO lines on a host so the
// bit-banged buses can run without hardware. Every line is open-drain
// with a pull-up: it reads high unless some party drives it low, which
// is exactly the wired-AND an I2C bus relies on.
package pinsim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Board is a set of simulated lines plus the targets attached to them.
// All pins and targets of a board share one lock, so a pin change and
// the targets' reaction to it are atomic.
type Board struct {
	mu      sync.Mutex
	lines   map[string]*line
	pins    map[string]*Pin
	targets []*Target
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{lines: make(map[string]*line), pins: make(map[string]*Pin)}
}

type line struct {
	name  string
	lows  map[string]bool
	edges uint64
}

func (l *line) level() gpio.Level {
	for _, low := range l.lows {
		if low {
			return gpio.Low
		}
	}
	return gpio.High
}

func (l *line) drive(party string, low bool) {
	before := l.level()
	l.lows[party] = low
	if l.level() != before {
		l.edges++
	}
}

func (b *Board) line(name string) *line {
	l, ok := b.lines[name]
	if !ok {
		l = &line{name: name, lows: make(map[string]bool)}
		b.lines[name] = l
	}
	return l
}

// Pin returns the named pin attached to the named line, creating both on
// first use. Several pins may share a line.
func (b *Board) Pin(name string, number int, lineName string) *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return p
	}
	p := &Pin{board: b, name: name, number: number, line: b.line(lineName), pull: gpio.PullUp}
	b.pins[name] = p
	return p
}

// Level reads a line directly.
func (b *Board) Level(lineName string) gpio.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.line(lineName).level()
}

// Edges returns how many times a line has changed level.
func (b *Board) Edges(lineName string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.line(lineName).edges
}

// Lines lists the line names in order.
func (b *Board) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.lines))
	for name := range b.lines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// settle lets every target react to line changes until nothing moves.
// b.mu must be held.
func (b *Board) settle() {
	for i := 0; i < 16; i++ {
		changed := false
		for _, t := range b.targets {
			if t.observe() {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// Pin is a simulated GPIO pin implementing gpio.PinIO. Output high
// releases the line; output low drives it.
type Pin struct {
	board  *Board
	name   string
	number int
	line   *line

	out  bool
	pull gpio.Pull
}

func (p *Pin) String() string { return fmt.Sprintf("%s(%d)", p.name, p.number) }
func (p *Pin) Halt() error    { return nil }
func (p *Pin) Name() string   { return p.name }
func (p *Pin) Number() int    { return p.number }

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	if p.out {
		return gpio.OUT
	}
	return gpio.IN
}

// In releases the line and records the pull.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return errors.Errorf("pinsim: %s: edge detection not supported", p.name)
	}
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	p.out = false
	if pull != gpio.PullNoChange {
		p.pull = pull
	}
	p.line.drive(p.name, false)
	p.board.settle()
	return nil
}

// Read returns the line level.
func (p *Pin) Read() gpio.Level {
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	return p.line.level()
}

// WaitForEdge is unsupported and always reports no edge.
func (p *Pin) WaitForEdge(time.Duration) bool {
	return false
}

func (p *Pin) Pull() gpio.Pull        { return p.pull }
func (p *Pin) DefaultPull() gpio.Pull { return gpio.PullUp }

// Out drives the line low, or releases it for high.
func (p *Pin) Out(l gpio.Level) error {
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	p.out = true
	p.line.drive(p.name, l == gpio.Low)
	p.board.settle()
	return nil
}

// PWM is unsupported.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.Errorf("pinsim: %s: pwm not supported", p.name)
}

var _ gpio.PinIO = (*Pin)(nil)
