package sequencer

import "fmt"

// ConfigError reports an invalid ExposureStep or an invalid Run
// request (unknown lamp, exposure below minimum, TL intensity given
// for a non-TL lamp, too many images to queue). Not recoverable; the
// caller must build a new sequence.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "sequencer: " + e.Msg }

// AcquisitionTimeoutError reports that the step'th image did not
// arrive within its exposure-derived timeout.
type AcquisitionTimeoutError struct {
	Step int
	Err  error
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("sequencer: step %d: image acquisition timed out: %v", e.Step, e.Err)
}

func (e *AcquisitionTimeoutError) Unwrap() error { return e.Err }

// HardwareAbortedError reports that the IOTool program stopped before
// completion, distinct from driver/iotool.ProgramError (which reports
// per-command rejection at store time, not mid-run failure).
type HardwareAbortedError struct {
	Err error
}

func (e *HardwareAbortedError) Error() string {
	return fmt.Sprintf("sequencer: hardware aborted: %v", e.Err)
}

func (e *HardwareAbortedError) Unwrap() error { return e.Err }
