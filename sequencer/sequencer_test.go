package sequencer

import (
	"context"
	"math"
	"testing"

	"rpcscope.dev/buffer"
	"rpcscope.dev/camera"
	"rpcscope.dev/config"
	"rpcscope.dev/driver/iotool"
)

func testConfig() *config.Scope {
	return &config.Scope{
		Pins: config.Pins{
			Trigger: "trigger", Arm: "arm", AuxOut1: "aux_out1", AuxOut2: "aux_out2",
			TLEnable: "tl_enable", TLPWM: "tl_pwm",
		},
		TL: config.LampTiming{OnLatencyMs: 0.025, RiseMs: 0.06, OffLatencyMs: 0.06, FallMs: 0.013},
		Lamps: map[string]config.LampTiming{
			"cyan": {OnLatencyMs: 0.120, RiseMs: 0.015, OffLatencyMs: 0.08, FallMs: 0.010},
		},
	}
}

func newTestRunner(t *testing.T) (*Runner, *iotool.Simulator, *camera.Simulator) {
	t.Helper()
	iosim := iotool.NewSimulator()
	ctrl, err := iotool.Open(iosim.Opener())
	if err != nil {
		t.Fatalf("iotool.Open: %v", err)
	}
	camsim := camera.NewSimulator(64, 64)
	cam := camera.New(camsim, buffer.NewRegistry())

	r, err := NewSequence(cam, ctrl, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewSequence: %v", err)
	}
	return r, iosim, camsim
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAddStepS1TLWorkedExample(t *testing.T) {
	r, _, _ := newTestRunner(t)
	intensity := 128
	if err := r.AddStep(50.0, TL(), &intensity, 0); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	step := r.steps[0]
	if !almostEqual(step.OnDelayMs, 49.9885) {
		t.Errorf("on_delay = %v, want 49.9885", step.OnDelayMs)
	}
	if !almostEqual(step.OffDelayMs, 0.073) {
		t.Errorf("off_delay = %v, want 0.073", step.OffDelayMs)
	}
}

func TestAddStepS2FluorescenceWorkedExample(t *testing.T) {
	r, _, _ := newTestRunner(t)
	if err := r.AddStep(5.0, Fluorescence("cyan"), nil, 0); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	step := r.steps[0]
	if !almostEqual(step.OnDelayMs, 5.0425) {
		t.Errorf("on_delay = %v, want 5.0425", step.OnDelayMs)
	}
	if !almostEqual(step.OffDelayMs, 0.09) {
		t.Errorf("off_delay = %v, want 0.09", step.OffDelayMs)
	}
}

func TestAddStepBelowMinimumExposureRejected(t *testing.T) {
	r, _, _ := newTestRunner(t)
	// min_exp for cyan is 0.0925ms; anything below must fail.
	if err := r.AddStep(0.09, Fluorescence("cyan"), nil, 0); err == nil {
		t.Fatalf("expected ConfigError for below-minimum exposure")
	} else if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError, got %T: %v", err, err)
	}
	// Comfortably above the minimum must succeed.
	if err := r.AddStep(0.1, Fluorescence("cyan"), nil, 0); err != nil {
		t.Errorf("expected above-minimum step to compile, got %v", err)
	}
}

func TestAddStepTLIntensityOnNonTLRejected(t *testing.T) {
	r, _, _ := newTestRunner(t)
	intensity := 100
	if err := r.AddStep(5.0, Fluorescence("cyan"), &intensity, 0); err == nil {
		t.Fatalf("expected ConfigError for tl_intensity on a non-TL lamp")
	}
}

func TestCompileS3PulseAndWaitCounts(t *testing.T) {
	r, _, _ := newTestRunner(t)
	for i := 0; i < 4; i++ {
		if err := r.AddStep(5.0, Fluorescence("cyan"), nil, 0); err != nil {
			t.Fatalf("AddStep %d: %v", i, err)
		}
	}
	if err := r.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	pulses, waits := 0, 0
	for i := 0; i < len(r.program); i++ {
		cmd := string(r.program[i])
		if cmd == "set_high trigger" && i+1 < len(r.program) && string(r.program[i+1]) == "set_low trigger" {
			pulses++
		}
		if cmd == "wait_high aux_out1" {
			waits++
		}
	}
	if pulses != 5 {
		t.Errorf("pulse count = %d, want 5 (N+1 for N=4)", pulses)
	}
	if waits != 4 {
		t.Errorf("wait_high(aux_out1) count = %d, want 4", waits)
	}
}

func TestEmitDelayB3SingleMillisecond(t *testing.T) {
	cmds := emitDelay(1)
	if len(cmds) != 1 {
		t.Fatalf("emitDelay(1) = %v, want a single instruction", cmds)
	}
	if cmds[0] != iotool.DelayUs(996) {
		t.Errorf("emitDelay(1) = %v, want delay_us 996", cmds[0])
	}
}

func TestEmitDelayB4ThirtyFourMilliseconds(t *testing.T) {
	cmds := emitDelay(34)
	if len(cmds) != 2 {
		t.Fatalf("emitDelay(34) = %v, want two instructions", cmds)
	}
	if cmds[0] != iotool.DelayMs(33) {
		t.Errorf("emitDelay(34)[0] = %v, want delay_ms 33", cmds[0])
	}
	if cmds[1] != iotool.DelayUs(981) {
		t.Errorf("emitDelay(34)[1] = %v, want delay_us 981", cmds[1])
	}
}

func TestEmitDelayZeroIsOmitted(t *testing.T) {
	if cmds := emitDelay(0); cmds != nil {
		t.Errorf("emitDelay(0) = %v, want nil", cmds)
	}
}

func TestRunS4TooManyImagesRejectedBeforeHardwareTouch(t *testing.T) {
	r, _, camsim := newTestRunner(t)
	safe, err := r.cam.SafeQueueDepth()
	if err != nil {
		t.Fatalf("SafeQueueDepth: %v", err)
	}
	for i := 0; i < safe+1; i++ {
		if err := r.AddStep(5.0, Fluorescence("cyan"), nil, 0); err != nil {
			t.Fatalf("AddStep %d: %v", i, err)
		}
	}

	before, _ := camsim.GetEnum(camera.FeatureTriggerMode)

	_, err = r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected ConfigError for too many images")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError, got %T: %v", err, err)
	}
	after, _ := camsim.GetEnum(camera.FeatureTriggerMode)
	if before != after {
		t.Errorf("trigger_mode changed despite rejection: %q -> %q", before, after)
	}
}

func TestRunEndToEnd(t *testing.T) {
	r, _, _ := newTestRunner(t)
	for i := 0; i < 3; i++ {
		if err := r.AddStep(5.0, Fluorescence("cyan"), nil, 0); err != nil {
			t.Fatalf("AddStep %d: %v", i, err)
		}
	}

	names, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("Run returned %d names, want 3", len(names))
	}
	if len(r.Timestamps()) != 3 {
		t.Errorf("Timestamps() returned %d entries, want 3", len(r.Timestamps()))
	}
}
