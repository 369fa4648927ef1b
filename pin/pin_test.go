package pin

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"
)

func TestLampNamers(t *testing.T) {
	if got := LampEnable("cyan"); got != "cyan_enable" {
		t.Errorf("LampEnable(cyan) = %q, want cyan_enable", got)
	}
	if got := LampPWM("cyan"); got != "cyan_pwm" {
		t.Errorf("LampPWM(cyan) = %q, want cyan_pwm", got)
	}
}

func TestPinOutDrivesAndRecords(t *testing.T) {
	var driven []gpio.Level
	p := New(Trigger, func(n Name, l gpio.Level) error {
		if n != Trigger {
			t.Errorf("drive called with %q, want %q", n, Trigger)
		}
		driven = append(driven, l)
		return nil
	})

	if err := p.Out(gpio.High); err != nil {
		t.Fatalf("Out(High): %v", err)
	}
	if p.Read() != gpio.High {
		t.Errorf("Read() = %v, want High", p.Read())
	}
	if err := p.Out(gpio.Low); err != nil {
		t.Fatalf("Out(Low): %v", err)
	}
	if p.Read() != gpio.Low {
		t.Errorf("Read() = %v, want Low", p.Read())
	}
	if len(driven) != 2 {
		t.Fatalf("drive called %d times, want 2", len(driven))
	}
}

func TestPinOutWithoutDriverErrors(t *testing.T) {
	p := New(Arm, nil)
	if err := p.Out(gpio.High); err == nil {
		t.Fatalf("expected an error with no driver attached")
	}
}

func TestPinOutPropagatesDriveError(t *testing.T) {
	wantErr := errors.New("boom")
	p := New(Arm, func(Name, gpio.Level) error { return wantErr })
	if err := p.Out(gpio.High); err != wantErr {
		t.Errorf("Out() = %v, want %v", err, wantErr)
	}
	if p.Read() != gpio.Low {
		t.Errorf("Read() = %v after a failed Out, want unchanged Low", p.Read())
	}
}

func TestPinPWMDrivesAtEightBitResolution(t *testing.T) {
	var got uint8
	var gotName Name
	p := NewPWM(LampPWM("cyan"), nil, func(n Name, intensity uint8) error {
		gotName, got = n, intensity
		return nil
	})
	if err := p.PWM(gpio.Half); err != nil {
		t.Fatalf("PWM(Half): %v", err)
	}
	if gotName != LampPWM("cyan") {
		t.Errorf("drivePWM called with %q, want %q", gotName, LampPWM("cyan"))
	}
	if got != 127 && got != 128 {
		t.Errorf("PWM(Half) -> intensity %d, want ~127", got)
	}
}

func TestPinPWMWithoutDriverErrors(t *testing.T) {
	p := New(TLPWM, nil)
	if err := p.PWM(gpio.Half); err == nil {
		t.Fatalf("expected an error with no PWM driver attached")
	}
}

func TestPinSatisfiesPinOut(t *testing.T) {
	var _ gpio.PinOut = New(Trigger, nil)
}
