//go:build rp2040

package main

import (
	"errors"
	"machine"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// pin adapts a machine.Pin to periph's gpio.PinIO so the bus drivers can
// use it. Output is push-pull; a released open-drain line is an input
// with pull-up.
type pin struct {
	machine.Pin
	name   string
	pull   gpio.Pull
	output bool
}

func newPin(p machine.Pin, name string) *pin {
	return &pin{Pin: p, name: name, pull: gpio.PullNoChange}
}

func (p *pin) String() string { return p.name }
func (p *pin) Name() string   { return p.name }
func (p *pin) Number() int    { return int(p.Pin) }
func (p *pin) Halt() error    { return nil }

func (p *pin) Function() string {
	if p.output {
		return "Out"
	}
	return "In"
}

func (p *pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return errors.New("edge detection not supported")
	}
	if pull == gpio.PullNoChange {
		pull = p.pull
	}
	mode := machine.PinInput
	switch pull {
	case gpio.PullUp:
		mode = machine.PinInputPullup
	case gpio.PullDown:
		mode = machine.PinInputPulldown
	}
	p.Configure(machine.PinConfig{Mode: mode})
	p.pull = pull
	p.output = false
	return nil
}

func (p *pin) Read() gpio.Level {
	return gpio.Level(p.Get())
}

func (p *pin) WaitForEdge(time.Duration) bool {
	return false
}

func (p *pin) Pull() gpio.Pull {
	return p.pull
}

func (p *pin) DefaultPull() gpio.Pull {
	return gpio.PullDown
}

func (p *pin) Out(l gpio.Level) error {
	if !p.output {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.output = true
	}
	p.Set(bool(l))
	return nil
}

func (p *pin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("pwm not supported")
}

var _ gpio.PinIO = (*pin)(nil)
