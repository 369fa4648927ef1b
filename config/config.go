// package config loads the instrument configuration a sequencer.Runner
// needs: lamp timing constants, pin assignments, and the IOTool serial
// device path. This package only turns a YAML file into the Scope
// value sequencer uses; it has no opinion on where that file lives.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LampTiming holds the rise/fall latencies of one illumination source,
// in milliseconds, as used by the sequencer's on/off delay arithmetic.
type LampTiming struct {
	OnLatencyMs  float64 `yaml:"on_latency_ms"`
	RiseMs       float64 `yaml:"rise_ms"`
	OffLatencyMs float64 `yaml:"off_latency_ms"`
	FallMs       float64 `yaml:"fall_ms"`
}

// Pins names the IOTool lines this instrument wires to the camera and
// transmitted-light hardware.
type Pins struct {
	Trigger  string `yaml:"trigger"`
	Arm      string `yaml:"arm"`
	AuxOut1  string `yaml:"aux_out1"`
	AuxOut2  string `yaml:"aux_out2"`
	TLEnable string `yaml:"tl_enable"`
	TLPWM    string `yaml:"tl_pwm"`
}

// Scope is the full set of instrument parameters the sequencer needs.
type Scope struct {
	IOToolDevice string                `yaml:"iotool_device"`
	Pins         Pins                  `yaml:"pins"`
	TL           LampTiming            `yaml:"tl"`
	Lamps        map[string]LampTiming `yaml:"lamps"`
}

// Timing returns the timing record for lamp, which may be "TL" or one
// of the keys in Lamps.
func (s *Scope) Timing(lamp string) (LampTiming, bool) {
	if lamp == "TL" {
		return s.TL, true
	}
	t, ok := s.Lamps[lamp]
	return t, ok
}

// Load reads and parses an instrument configuration file.
func Load(path string) (*Scope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Scope
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &s, nil
}
