package camera

import (
	"fmt"
	"sync"
)

// Simulator is an in-process Driver implementation for tests: buffers
// are queued, filled with synthetic pixel data plus a timestamp
// trailer, and handed back through an explicit Queue/Wait call pair
// instead of a callback.
type Simulator struct {
	mu sync.Mutex

	ints    map[Feature]int64
	floats  map[Feature]float64
	bools   map[Feature]bool
	strs    map[Feature]string
	enums   map[Feature]string
	enumSet map[Feature][]string
	readOnly map[Feature]bool

	pending     [][]byte
	acquiring   bool
	nextTicks   uint64
	ticksPerBuf uint64

	callbacks map[Feature][]func(Feature)
}

// NewSimulator returns a Simulator pre-configured for a width x height
// sensor with reasonable defaults for every feature the camera core
// reads.
func NewSimulator(width, height int) *Simulator {
	s := &Simulator{
		ints: map[Feature]int64{
			FeatureFrameCount: 0,
			FeatureBinning:    1,
			FeatureAOILeft:    0,
			FeatureAOITop:     0,
			FeatureAOIWidth:   int64(width),
			FeatureAOIHeight:  int64(height),
		},
		floats: map[Feature]float64{
			FeatureExposureTime: 10,
			FeatureReadoutRate:  5,
			FeatureFrameRate:    30,
			FeatureReadoutTime:  0.01,
		},
		bools: map[Feature]bool{
			FeatureOverlapEnabled:     false,
			FeatureSelectedIOInverted: false,
			FeatureLiveMode:           false,
		},
		enums: map[Feature]string{
			FeatureTriggerMode: "External Exposure",
			FeatureCycleMode:   "Fixed",
			FeatureAuxOutSource: "FireAll",
			FeatureShutterMode: "Rolling",
		},
		enumSet: map[Feature][]string{
			FeatureTriggerMode: {"Internal", "External Exposure", "Software"},
			FeatureShutterMode: {"Rolling", "Global"},
		},
		readOnly:    map[Feature]bool{},
		ticksPerBuf: 1000,
		callbacks:   map[Feature][]func(Feature){},
	}
	return s
}

func (s *Simulator) Initialize(model string) error { return nil }

func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *Simulator) QueueBuffer(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, buf)
	return nil
}

func (s *Simulator) WaitBuffer(timeoutMs int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, &DriverError{Code: ErrTimedOut}
	}
	buf := s.pending[0]
	s.pending = s.pending[1:]

	for i := range buf {
		buf[i] = byte(i)
	}
	s.nextTicks += s.ticksPerBuf
	return serializeTimestampChunk(buf, s.nextTicks), nil
}

func (s *Simulator) ConvertBuffer(src []byte, dst []uint16, width, height, stride int) error {
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			off := row*stride + col*2
			dst[col*height+row] = uint16(src[off]) | uint16(src[off+1])<<8
		}
	}
	return nil
}

func (s *Simulator) Command(cmd DriverCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case CommandAcquisitionStart:
		s.acquiring = true
	case CommandAcquisitionStop:
		s.acquiring = false
	case CommandSoftwareTrigger:
		if !s.acquiring {
			return fmt.Errorf("camera: software trigger while not acquiring")
		}
	case CommandTimestampClockReset:
		s.nextTicks = 0
	}
	return nil
}

func (s *Simulator) GetInt(f Feature) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ints[f], nil
}

func (s *Simulator) SetInt(f Feature, v int64) error {
	s.mu.Lock()
	s.ints[f] = v
	s.mu.Unlock()
	s.notify(f)
	return nil
}

func (s *Simulator) GetFloat(f Feature) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floats[f], nil
}

func (s *Simulator) SetFloat(f Feature, v float64) error {
	s.mu.Lock()
	s.floats[f] = v
	s.mu.Unlock()
	s.notify(f)
	return nil
}

func (s *Simulator) GetBool(f Feature) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bools[f], nil
}

func (s *Simulator) SetBool(f Feature, v bool) error {
	s.mu.Lock()
	s.bools[f] = v
	s.mu.Unlock()
	s.notify(f)
	return nil
}

func (s *Simulator) GetString(f Feature) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strs[f], nil
}

func (s *Simulator) SetString(f Feature, v string) error {
	s.mu.Lock()
	if s.strs == nil {
		s.strs = map[Feature]string{}
	}
	s.strs[f] = v
	s.mu.Unlock()
	s.notify(f)
	return nil
}

func (s *Simulator) GetEnum(f Feature) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enums[f], nil
}

func (s *Simulator) SetEnum(f Feature, v string) error {
	s.mu.Lock()
	if s.enums == nil {
		s.enums = map[Feature]string{}
	}
	s.enums[f] = v
	s.mu.Unlock()
	s.notify(f)
	return nil
}

// GetFloatRange returns a fixed, overlap-dependent frame rate range;
// it is the only feature the simulator needs a range for.
func (s *Simulator) GetFloatRange(f Feature) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f != FeatureFrameRate {
		return 0, 0, &DriverError{Code: ErrNotImplemented, Feature: f}
	}
	if s.bools[FeatureOverlapEnabled] {
		return 10, 100, nil
	}
	return 1, 50, nil
}

func (s *Simulator) GetEnumCount(f Feature) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enumSet[f]), nil
}

func (s *Simulator) GetEnumStringByIndex(f Feature, i int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.enumSet[f]
	if i < 0 || i >= len(vals) {
		return "", &DriverError{Code: ErrOutOfRange, Feature: f}
	}
	return vals[i], nil
}

func (s *Simulator) IsEnumIndexImplemented(f Feature, i int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return i >= 0 && i < len(s.enumSet[f]), nil
}

func (s *Simulator) IsEnumIndexAvailable(f Feature, i int) (bool, error) {
	return s.IsEnumIndexImplemented(f, i)
}

func (s *Simulator) IsWritable(f Feature) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.readOnly[f], nil
}

func (s *Simulator) RegisterFeatureCallback(f Feature, cb func(Feature)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[f] = append(s.callbacks[f], cb)
	return nil
}

func (s *Simulator) notify(f Feature) {
	s.mu.Lock()
	cbs := append([]func(Feature){}, s.callbacks[f]...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
}

var _ Driver = (*Simulator)(nil)
