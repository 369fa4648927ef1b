package camera

import (
	"testing"
	"time"
)

func TestLiveModeStartStopAndFPS(t *testing.T) {
	cam, sim := newTestCamera(8, 8)
	sim.floats[FeatureExposureTime] = 2
	sim.floats[FeatureReadoutRate] = 1

	cam.EnableLiveMode()
	if err := cam.SetLiveMode(true); err != nil {
		t.Fatalf("SetLiveMode(true): %v", err)
	}
	if !cam.live.running() {
		t.Fatalf("live mode not marked running after start")
	}

	time.Sleep(50 * time.Millisecond)

	if err := cam.SetLiveMode(false); err != nil {
		t.Fatalf("SetLiveMode(false): %v", err)
	}
	if cam.live.running() {
		t.Fatalf("live mode still marked running after stop")
	}

	if _, err := cam.registry.Borrow("live"); err != nil {
		t.Fatalf("expected at least one live frame registered: %v", err)
	}
	if fps := cam.LiveFPS(); fps <= 0 {
		t.Errorf("LiveFPS() = %v, want > 0", fps)
	}
}

func TestLiveModeStopOrdersReaderBeforeTrigger(t *testing.T) {
	cam, sim := newTestCamera(8, 8)
	sim.floats[FeatureExposureTime] = 2
	sim.floats[FeatureReadoutRate] = 1

	cam.EnableLiveMode()
	if err := cam.live.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	doneReader := cam.live.doneReader

	if err := cam.live.stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// stop() waits on doneReader before closing stopTrigger, so by the
	// time it returns the channel must already be closed.
	select {
	case <-doneReader:
	default:
		t.Errorf("reader goroutine was not done when stop() returned")
	}
}

func TestSetLiveExposureStaysWithinBoundary(t *testing.T) {
	cam, sim := newTestCamera(8, 8)
	sim.floats[FeatureExposureTime] = 2
	sim.floats[FeatureReadoutRate] = 1

	cam.EnableLiveMode()
	if err := cam.SetLiveMode(true); err != nil {
		t.Fatalf("SetLiveMode(true): %v", err)
	}
	defer cam.SetLiveMode(false)

	if err := cam.SetLiveExposure(3); err != nil {
		t.Fatalf("SetLiveExposure: %v", err)
	}
	if v, _ := cam.GetFloat(FeatureExposureTime); v != 3 {
		t.Errorf("exposure = %v, want 3", v)
	}
	if !cam.live.running() {
		t.Errorf("live mode should stay running for a same-side exposure change")
	}
}

func TestSetLiveExposureCrossesBoundary(t *testing.T) {
	cam, sim := newTestCamera(8, 8)
	sim.floats[FeatureExposureTime] = 2
	sim.floats[FeatureReadoutRate] = 5

	cam.EnableLiveMode()
	if err := cam.SetLiveMode(true); err != nil {
		t.Fatalf("SetLiveMode(true): %v", err)
	}
	defer cam.SetLiveMode(false)

	// 2ms is below the 5ms readout boundary; 10ms crosses above it.
	if err := cam.SetLiveExposure(10); err != nil {
		t.Fatalf("SetLiveExposure: %v", err)
	}
	if v, _ := cam.GetFloat(FeatureExposureTime); v != 10 {
		t.Errorf("exposure = %v, want 10", v)
	}
	if !cam.live.running() {
		t.Errorf("live mode should resume running after a boundary-crossing exposure change")
	}
}
