package camera

import "fmt"

// Kind identifies the runtime type of a camera feature: the vendor
// driver is a string-keyed, runtime-typed feature model, represented
// here as a tagged union instead.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindEnum
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a tagged union holding one feature value. Exactly one field
// is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Int    int64
	Float  float64
	Bool   bool
	Enum   string
	String string
}

func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func EnumValue(v string) Value   { return Value{Kind: KindEnum, Enum: v} }
func StringValue(v string) Value { return Value{Kind: KindString, String: v} }

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindEnum, KindString:
		return v.Enum + v.String
	default:
		return "<invalid>"
	}
}

// Feature names one of the camera features tracked on a
// CameraStateFrame.
type Feature string

const (
	FeatureTriggerMode           Feature = "trigger_mode"
	FeatureCycleMode             Feature = "cycle_mode"
	FeatureOverlapEnabled        Feature = "overlap_enabled"
	FeatureFrameCount            Feature = "frame_count"
	FeatureExposureTime          Feature = "exposure_time"
	FeatureReadoutRate           Feature = "readout_rate"
	FeatureAuxOutSource          Feature = "aux_out_source"
	FeatureSelectedIOInverted    Feature = "selected_io_pin_inverted"
	FeatureBinning               Feature = "binning"
	FeatureAOILeft               Feature = "aoi_left"
	FeatureAOITop                Feature = "aoi_top"
	FeatureAOIWidth              Feature = "aoi_width"
	FeatureAOIHeight             Feature = "aoi_height"
	FeatureLiveMode              Feature = "live_mode"
	FeatureFrameRate             Feature = "frame_rate"

	// FeatureShutterMode ("Rolling" or "Global") and FeatureReadoutTime
	// are read-only and feed CalculateStreamingMode's overlap-legality
	// checks; neither is ever part of a push/pop frame.
	FeatureShutterMode Feature = "shutter_mode"
	FeatureReadoutTime Feature = "readout_time"

	// FeatureIOSelector picks which physical Aux Out line is being
	// configured; unlike FeatureAuxOutSource (what signal it carries)
	// this is set directly and is never part of a push/pop frame.
	FeatureIOSelector Feature = "io_selector"
)

// pushWeights mirrors original_source/scope/device/andor/camera_base.py's
// _get_push_weights: live_mode goes first (paused before any other
// write), cycle/trigger/overlap/frame_count/frame_rate go last because
// their legality depends on every other feature already being in
// place. Features of equal weight are applied in no defined order:
// they come from a map.
var pushWeights = map[Feature]int{
	FeatureLiveMode:       -100,
	FeatureCycleMode:      90,
	FeatureTriggerMode:    95,
	FeatureOverlapEnabled: 100,
	FeatureFrameCount:     90,
	FeatureFrameRate:      90,
}

// popWeights is pushWeights negated: overlap_enabled is undone first
// (I5), live_mode restored last.
var popWeights = map[Feature]int{
	FeatureLiveMode:       100,
	FeatureCycleMode:      -90,
	FeatureTriggerMode:    -95,
	FeatureOverlapEnabled: -100,
	FeatureFrameCount:     -90,
	FeatureFrameRate:      -90,
}

func weightFor(weights map[Feature]int, f Feature) int {
	return weights[f]
}
