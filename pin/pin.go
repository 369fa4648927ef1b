// package pin implements the virtual digital I/O lines that an IOTool
// program references by name: the camera's trigger/arm/aux_out lines and
// the per-lamp enable lines. They carry no real silicon underneath them
// (the IOTool microcontroller is the thing that actually drives
// voltages); Pin exists so that the vocabulary of line levels and PWM
// duty is shared with periph.io-based tooling rather than reinvented.
// Pull state is not modelled.
package pin

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
)

// Name identifies a line an IOTool program can wait_high/wait_low/set_high/
// set_low/pwm. These match the pin configuration an instrument's config.Scope
// assigns.
type Name string

const (
	Trigger  Name = "trigger"
	Arm      Name = "arm"
	AuxOut1  Name = "aux_out1"
	AuxOut2  Name = "aux_out2"
	TLEnable Name = "tl_enable"
	TLPWM    Name = "tl_pwm"
)

// LampEnable returns the enable-line name for a fluorescence lamp.
func LampEnable(lamp string) Name {
	return Name(lamp + "_enable")
}

// LampPWM returns the intensity-PWM line name for a fluorescence lamp.
func LampPWM(lamp string) Name {
	return Name(lamp + "_pwm")
}

// Pin is a virtual output-only gpio line backed by an IOTool controller,
// implementing periph.io/x/conn/v3/gpio.PinOut. Reads reflect the last
// level this process believes it drove; there is no channel back from
// the microcontroller reporting an individual pin's level, so Pin
// cannot observe changes a running program makes to its own pins (a
// limitation of the IOTool protocol, not of Pin).
type Pin struct {
	name     Name
	drive    func(Name, gpio.Level) error
	drivePWM func(Name, uint8) error
	level    gpio.Level
	duty     int
}

// New returns a Pin named name whose level writes are forwarded to
// drive. Its PWM method is unavailable (returns an error) unless built
// with NewPWM instead.
func New(name Name, drive func(Name, gpio.Level) error) *Pin {
	return &Pin{name: name, drive: drive}
}

// NewPWM returns a Pin like New, additionally forwarding PWM duty
// writes to drivePWM as an 8-bit intensity (0-255), the resolution the
// IOTool wire protocol's pwm instruction actually carries.
func NewPWM(name Name, drive func(Name, gpio.Level) error, drivePWM func(Name, uint8) error) *Pin {
	return &Pin{name: name, drive: drive, drivePWM: drivePWM}
}

func (p *Pin) String() string   { return string(p.name) }
func (p *Pin) Name() string     { return string(p.name) }
func (p *Pin) Number() int      { return -1 }
func (p *Pin) Function() string { return "IOTool/" + string(p.name) }

func (p *Pin) Read() gpio.Level {
	return p.level
}

func (p *Pin) Out(l gpio.Level) error {
	if p.drive == nil {
		return errors.New("pin: no driver attached")
	}
	if err := p.drive(p.name, l); err != nil {
		return err
	}
	p.level = l
	return nil
}

// PWM sets the line's duty cycle, on gpio.Max's 0-65536 scale, by
// rescaling it down to the IOTool protocol's 8-bit intensity.
func (p *Pin) PWM(duty int) error {
	if p.drivePWM == nil {
		return errors.New("pin: no PWM driver attached")
	}
	if duty < 0 {
		duty = 0
	}
	if duty > gpio.Max {
		duty = gpio.Max
	}
	intensity := uint8(duty * 255 / gpio.Max)
	if err := p.drivePWM(p.name, intensity); err != nil {
		return err
	}
	p.duty = duty
	return nil
}

var _ gpio.PinOut = (*Pin)(nil)
