package camera

import "fmt"

// CalculateStreamingMode picks the best-possible (frame_rate, overlap)
// pair for a streaming acquisition of frameCount images at desiredFPS,
// grounded on original_source/scope/device/andor/camera_base.py's
// calculate_streaming_mode:
//
//   - if frameCount exceeds the safe queue depth, the frame rate is
//     capped at MaxInterfaceFPS (camera RAM can't hold the whole run,
//     so frames must be retrieved as fast as the host interface allows
//     rather than as fast as the sensor could expose them);
//   - overlap mode is tried first unless prohibited: rolling-shutter +
//     software-trigger forbids overlap outright (B5), and global-shutter
//     with an exposure shorter than the readout time avoids it (overlap
//     would silently stretch the exposure to the readout time instead);
//   - the result is clamped to whichever mode's legal (min, max) frame
//     rate range applies.
//
// frameCount <= 0 (continuous) is treated as never exceeding the safe
// queue depth.
func (c *Camera) CalculateStreamingMode(frameCount int, desiredFPS float64) (frameRate float64, overlap bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if desiredFPS <= 0 {
		return 0, false, fmt.Errorf("camera: desired frame rate must be positive, got %g", desiredFPS)
	}

	if err := c.pushState(map[Feature]Value{FeatureLiveMode: BoolValue(false)}); err != nil {
		return 0, false, err
	}
	defer func() {
		if perr := c.popState(); perr != nil && err == nil {
			err = perr
		}
	}()

	safeDepth, err := c.SafeQueueDepth()
	if err != nil {
		return 0, false, err
	}
	if frameCount > 0 && frameCount > safeDepth {
		frameRate = desiredFPS
		if c.MaxInterfaceFPS < frameRate {
			frameRate = c.MaxInterfaceFPS
		}
	} else {
		frameRate = desiredFPS
	}

	shutterMode, err := c.driver.GetEnum(FeatureShutterMode)
	if err != nil {
		return 0, false, err
	}
	triggerMode, err := c.driver.GetEnum(FeatureTriggerMode)
	if err != nil {
		return 0, false, err
	}

	tryOverlap := true
	if shutterMode == "Global" {
		readoutTime, err := c.driver.GetFloat(FeatureReadoutTime)
		if err != nil {
			return 0, false, err
		}
		if 1/desiredFPS > readoutTime {
			tryOverlap = false
		}
	}
	if shutterMode == "Rolling" && triggerMode == "Software" {
		tryOverlap = false
	}

	nonOverlapMin, nonOverlapMax, err := c.rangeInOverlapState(false)
	if err != nil {
		return 0, false, err
	}
	if frameRate < nonOverlapMin {
		frameRate = nonOverlapMin
	}

	if tryOverlap {
		overlapMin, overlapMax, err := c.rangeInOverlapState(true)
		if err != nil {
			return 0, false, err
		}
		if frameRate > overlapMax {
			frameRate = overlapMax
		}
		overlap = overlapMin <= frameRate && frameRate <= overlapMax
	} else {
		if frameRate > nonOverlapMax {
			frameRate = nonOverlapMax
		}
		overlap = false
	}

	return frameRate, overlap, nil
}

// rangeInOverlapState reports FeatureFrameRate's legal range with
// overlap_enabled temporarily forced to enabled, restoring the prior
// value before returning.
func (c *Camera) rangeInOverlapState(enabled bool) (min, max float64, err error) {
	if err := c.pushState(map[Feature]Value{FeatureOverlapEnabled: BoolValue(enabled)}); err != nil {
		return 0, 0, err
	}
	defer func() {
		if perr := c.popState(); perr != nil && err == nil {
			err = perr
		}
	}()
	return c.driver.GetFloatRange(FeatureFrameRate)
}
