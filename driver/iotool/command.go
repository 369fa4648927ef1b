package iotool

import "strconv"

// Command is a single line of IOTool byte-code. Commands are plain
// ASCII text terminated by the controller with a newline; Command
// carries the text without it.
type Command string

// WaitTime sets the debounce quantum, in microseconds, used by
// subsequent wait_high/wait_low instructions.
func WaitTime(us int) Command {
	return Command("wait_time " + strconv.Itoa(us))
}

// WaitHigh blocks the running program until pin reads high.
func WaitHigh(pin string) Command {
	return Command("wait_high " + pin)
}

// WaitLow blocks the running program until pin reads low.
func WaitLow(pin string) Command {
	return Command("wait_low " + pin)
}

// SetHigh drives pin high.
func SetHigh(pin string) Command {
	return Command("set_high " + pin)
}

// SetLow drives pin low.
func SetLow(pin string) Command {
	return Command("set_low " + pin)
}

// PWM sets pin's PWM duty cycle to duty, 0..255.
func PWM(pin string, duty uint8) Command {
	return Command("pwm " + pin + " " + strconv.Itoa(int(duty)))
}

// DelayMs sleeps for ms milliseconds. ms must be >= 1; the zero delay
// is represented by omitting the command entirely (see sequencer's
// delay emission).
func DelayMs(ms int) Command {
	return Command("delay_ms " + strconv.Itoa(ms))
}

// DelayUs sleeps for us microseconds. us must satisfy 4 <= us <= 32767.
func DelayUs(us int) Command {
	return Command("delay_us " + strconv.Itoa(us))
}

// Program brackets a stored program.
const (
	Program Command = "program"
	End     Command = "end"
	Abort   Command = "!"
)

// Run executes the currently stored program iters times.
func Run(iters int) Command {
	return Command("run " + strconv.Itoa(iters))
}
