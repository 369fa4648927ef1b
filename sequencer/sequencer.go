package sequencer

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"rpcscope.dev/camera"
	"rpcscope.dev/config"
	"rpcscope.dev/driver/iotool"
	"rpcscope.dev/pin"
)

// settleDelayMs is the fixed pause between pulsing the trigger and
// waiting for the camera's FireAll line, grounded on the original
// acquisition sequencer's comment that FireAll sometimes takes a
// moment to clear after the trigger edge.
const settleDelayMs = 0.05

// maxDelayUs is the largest value the IOTool delay_us counter can
// hold.
const maxDelayUs = 1<<15 - 1

// delayUsInstructionCost is subtracted from every emitted delay_us
// argument: the instruction itself takes this long to execute.
const delayUsInstructionCost = 4

// Runner builds and executes acquisition sequences against a camera,
// an IOTool controller, and an instrument configuration.
type Runner struct {
	cam *camera.Camera
	io  *iotool.Controller
	cfg *config.Scope

	intensities map[string]int

	steps []ExposureStep

	compiled    bool
	program     []iotool.Command
	fireAllTime []float64

	timestamps []float64
	banner     string
}

// NewSequence starts a new, empty sequence. intensities overrides the
// default full-brightness (255) starting intensity for the named
// fluorescence lamps; unnamed lamps default to 255.
func NewSequence(cam *camera.Camera, io *iotool.Controller, cfg *config.Scope, intensities map[string]int) (*Runner, error) {
	for lamp, v := range intensities {
		if _, ok := cfg.Lamps[lamp]; !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("unrecognized lamp %q", lamp)}
		}
		if v < 0 || v > 255 {
			return nil, &ConfigError{Msg: fmt.Sprintf("intensity %d for lamp %q out of range 0..255", v, lamp)}
		}
	}
	cp := map[string]int{}
	for k, v := range intensities {
		cp[k] = v
	}
	return &Runner{cam: cam, io: io, cfg: cfg, intensities: cp}, nil
}

// AddStep appends one exposure. tlIntensity is only valid when lamp is
// TL(); nil means leave the TL intensity unchanged.
func (r *Runner) AddStep(exposureMs float64, lamp Lamp, tlIntensity *int, delayAfterMs float64) error {
	timing, err := r.lampTiming(lamp, tlIntensity)
	if err != nil {
		return err
	}

	halfRiseFall := (timing.RiseMs + timing.FallMs) / 2
	minExp := halfRiseFall + timing.OffLatencyMs
	if exposureMs < minExp {
		return &ConfigError{Msg: fmt.Sprintf("exposure %g ms below minimum %g ms for lamp %s", exposureMs, minExp, lamp)}
	}

	fullOn := exposureMs - halfRiseFall
	onDelay := timing.OnLatencyMs + timing.RiseMs + fullOn - timing.OffLatencyMs
	offDelay := timing.OffLatencyMs + timing.FallMs

	r.steps = append(r.steps, ExposureStep{
		ExposureMs:   exposureMs,
		Lamp:         lamp,
		TLIntensity:  tlIntensity,
		DelayAfterMs: delayAfterMs,
		OnDelayMs:    onDelay,
		OffDelayMs:   offDelay,
	})
	r.compiled = false
	return nil
}

// lampTiming resolves and validates the single timing record that
// applies to lamp, per original_source/scope/device/acquisition_sequencer.py's
// add_step: TL steps use the TL timing record; fluorescence steps use
// every named lamp's record, which must all agree (the original system
// only ever has one Spectra-family timing record for the whole bank).
func (r *Runner) lampTiming(lamp Lamp, tlIntensity *int) (config.LampTiming, error) {
	if lamp.tl {
		return r.cfg.TL, nil
	}
	if tlIntensity != nil {
		return config.LampTiming{}, &ConfigError{Msg: "tl_intensity given for a non-TL lamp"}
	}
	if len(lamp.names) == 0 {
		return config.LampTiming{}, &ConfigError{Msg: "no fluorescence lamp named"}
	}
	var first config.LampTiming
	for i, name := range lamp.names {
		t, ok := r.cfg.Timing(name)
		if !ok {
			return config.LampTiming{}, &ConfigError{Msg: fmt.Sprintf("unrecognized lamp %q", name)}
		}
		if i == 0 {
			first = t
		} else if t != first {
			return config.LampTiming{}, &ConfigError{Msg: fmt.Sprintf("lamps %v do not share a timing record", lamp.names)}
		}
	}
	return first, nil
}

// Compile assembles the IOTool program for the accumulated steps and
// stores it on the controller. Idempotent once successfully compiled;
// AddStep invalidates it.
func (r *Runner) Compile() error {
	if r.compiled {
		return nil
	}
	if len(r.steps) == 0 {
		return &ConfigError{Msg: "no acquisition steps configured"}
	}

	pins := r.cfg.Pins
	var program []iotool.Command
	fireAll := make([]float64, 0, len(r.steps))

	program = append(program, iotool.WaitTime(20), iotool.WaitHigh(pins.Arm))
	for _, step := range r.steps {
		program = append(program, iotool.SetHigh(pins.Trigger), iotool.SetLow(pins.Trigger))
		program = append(program, emitDelay(settleDelayMs)...)
		program = append(program, iotool.WaitHigh(pins.AuxOut1))

		program = append(program, lampCommands(step.Lamp, true, step.TLIntensity, pins)...)
		program = append(program, emitDelay(step.OnDelayMs)...)
		program = append(program, lampCommands(step.Lamp, false, nil, pins)...)

		totalOffDelay := step.OffDelayMs + step.DelayAfterMs
		program = append(program, emitDelay(totalOffDelay)...)

		fireAll = append(fireAll, step.OnDelayMs+totalOffDelay)
	}
	program = append(program, iotool.SetHigh(pins.Trigger), iotool.SetLow(pins.Trigger))

	if err := r.io.StoreProgram(program...); err != nil {
		return err
	}

	r.program = program
	r.fireAllTime = fireAll
	r.compiled = true
	return nil
}

// lampCommands returns the set/clear commands for turning lamp on or
// off. intensity, when non-nil, is only meaningful on the "on" edge of
// a TL step.
func lampCommands(lamp Lamp, on bool, intensity *int, pins config.Pins) []iotool.Command {
	if lamp.tl {
		var cmds []iotool.Command
		if on {
			if intensity != nil {
				cmds = append(cmds, iotool.PWM(pins.TLPWM, uint8(*intensity)))
			}
			cmds = append(cmds, iotool.SetHigh(pins.TLEnable))
		} else {
			cmds = append(cmds, iotool.SetLow(pins.TLEnable))
		}
		return cmds
	}
	cmds := make([]iotool.Command, 0, len(lamp.names))
	for _, name := range lamp.names {
		if on {
			cmds = append(cmds, iotool.SetHigh(string(pin.LampEnable(name))))
		} else {
			cmds = append(cmds, iotool.SetLow(string(pin.LampEnable(name))))
		}
	}
	return cmds
}

// emitDelay turns a millisecond delay into one or two IOTool delay
// instructions, per original_source/scope/device/acquisition_sequencer.py's
// _add_delay: the microsecond counter maxes out at 32767, so longer
// delays spend a whole-millisecond delay_ms first and fold one
// millisecond of it back into the microsecond remainder (985 us: the
// folded-back 1000 us less delay_ms's own ~15 us execution cost), then
// subtract the 4 us delay_us itself costs to run.
func emitDelay(delayMs float64) []iotool.Command {
	if delayMs == 0 {
		return nil
	}
	delayUs := int(delayMs * 1000)

	if delayUs < 1<<15 {
		return []iotool.Command{iotool.DelayUs(delayUs - delayUsInstructionCost)}
	}

	us := delayUs % 1000
	ms := delayUs/1000 - 1
	us += 985
	return []iotool.Command{
		iotool.DelayMs(ms),
		iotool.DelayUs(us - delayUsInstructionCost),
	}
}

// Run validates the queue depth, compiles if necessary, pushes the
// camera and lamps into acquisition state, fires the compiled program,
// and collects one named buffer per step, in order.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	numImages := len(r.steps)
	safe, err := r.cam.SafeQueueDepth()
	if err != nil {
		return nil, err
	}
	if numImages > safe {
		return nil, &ConfigError{Msg: fmt.Sprintf("camera cannot queue more than %d images in its current state, %d steps requested", safe, numImages)}
	}

	if err := r.Compile(); err != nil {
		return nil, err
	}

	if err := r.cam.SetEnum(camera.FeatureIOSelector, "Aux Out 1"); err != nil {
		return nil, err
	}

	acqState := map[camera.Feature]camera.Value{
		camera.FeatureOverlapEnabled:     camera.BoolValue(true),
		camera.FeatureAuxOutSource:       camera.EnumValue("FireAll"),
		camera.FeatureSelectedIOInverted: camera.BoolValue(false),
	}
	if err := r.cam.StartImageSequenceAcquisition(numImages, "External Exposure", acqState); err != nil {
		return nil, err
	}
	defer r.cam.EndImageSequenceAcquisition()

	if err := r.initializeLamps(); err != nil {
		return nil, err
	}
	defer r.disableLamps()

	time.Sleep(time.Duration(r.worstCaseLampOffSettleMs() * float64(time.Millisecond)))

	readoutMs, err := r.cam.GetFloat(camera.FeatureReadoutRate)
	if err != nil {
		return nil, err
	}

	if err := r.io.StartProgram(1); err != nil {
		return nil, err
	}

	names := make([]string, 0, numImages)
	timestamps := make([]float64, 0, numImages)
	for i, fireAllMs := range r.fireAllTime {
		exposureMs := fireAllMs + readoutMs
		timeout := time.Duration(exposureMs*float64(time.Millisecond)) + time.Second
		name, ts, _, err := r.cam.NextImageAndMetadata(timeout)
		if err != nil {
			return nil, &AcquisitionTimeoutError{Step: i, Err: err}
		}
		names = append(names, name)
		timestamps = append(timestamps, ts)
	}

	banner, err := r.io.WaitUntilDone(ctx)
	if err != nil {
		return nil, &HardwareAbortedError{Err: err}
	}

	r.timestamps = timestamps
	r.banner = banner
	return names, nil
}

func (r *Runner) worstCaseLampOffSettleMs() float64 {
	worst := r.cfg.TL.OffLatencyMs + r.cfg.TL.FallMs
	for _, t := range r.cfg.Lamps {
		if v := t.OffLatencyMs + t.FallMs; v > worst {
			worst = v
		}
	}
	return worst
}

// driveLevel forwards a pin.Pin's Out write to the IOTool controller
// as a single set_high/set_low command.
func (r *Runner) driveLevel(name pin.Name, l gpio.Level) error {
	if l == gpio.High {
		_, err := r.io.Execute(iotool.SetHigh(string(name)))
		return err
	}
	_, err := r.io.Execute(iotool.SetLow(string(name)))
	return err
}

// drivePWM forwards a pin.Pin's PWM write to the IOTool controller as
// a single pwm command.
func (r *Runner) drivePWM(name pin.Name, intensity uint8) error {
	_, err := r.io.Execute(iotool.PWM(string(name), intensity))
	return err
}

// initializeLamps drives every configured fluorescence lamp to
// disabled at its custom (or default 255) intensity, and the TL lamp
// to disabled without touching its intensity.
func (r *Runner) initializeLamps() error {
	for name := range r.cfg.Lamps {
		intensity := 255
		if v, ok := r.intensities[name]; ok {
			intensity = v
		}
		enable := pin.New(pin.LampEnable(name), r.driveLevel)
		if err := enable.Out(gpio.Low); err != nil {
			return err
		}
		pwm := pin.NewPWM(pin.LampPWM(name), r.driveLevel, r.drivePWM)
		if err := pwm.PWM((intensity*gpio.Max + 254) / 255); err != nil {
			return err
		}
	}
	tlEnable := pin.New(pin.Name(r.cfg.Pins.TLEnable), r.driveLevel)
	return tlEnable.Out(gpio.Low)
}

// disableLamps returns every lamp enable line to low. Pins have no
// readback, so there is no prior state to truly restore to; leaving
// everything disabled matches the compiled program's own final state.
func (r *Runner) disableLamps() error {
	for name := range r.cfg.Lamps {
		enable := pin.New(pin.LampEnable(name), r.driveLevel)
		if err := enable.Out(gpio.Low); err != nil {
			return err
		}
	}
	tlEnable := pin.New(pin.Name(r.cfg.Pins.TLEnable), r.driveLevel)
	return tlEnable.Out(gpio.Low)
}

// Timestamps returns the per-image sensor-clock timestamps from the
// most recent Run.
func (r *Runner) Timestamps() []float64 { return r.timestamps }

// ProgramOutput returns the IOTool banner text printed at the end of
// the most recent Run.
func (r *Runner) ProgramOutput() string { return r.banner }

// FireAllTimes returns the per-step FireAll duration (milliseconds),
// available once Compile has run.
func (r *Runner) FireAllTimes() []float64 { return r.fireAllTime }
