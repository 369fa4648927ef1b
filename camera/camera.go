// package camera wraps an opaque vendor camera driver (Driver) with
// the feature-state stack, buffer queueing, live-mode threads and
// image conversion a rolling-shutter scientific camera needs.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"rpcscope.dev/buffer"
)

// SafeQueueConstant and SensorMidline are the two empirical constants
// the safe-queue-depth formula is built from. Both are Zyla-5.5-specific
// (unconfirmed for the Sona camera); expose them as fields rather than
// hard-coding so a different sensor can be configured without code
// changes.
const (
	defaultSafeQueueConstant = 126464
	defaultSensorMidline     = 1080

	// defaultMaxInterfaceFPS is the live-streaming frame rate ceiling
	// imposed by the host interface rather than the sensor itself; like
	// the two constants above it is camera-model-specific and exposed
	// as a field so a different model can be configured.
	defaultMaxInterfaceFPS = 100
)

// Camera is the camera core: driver plus state stack plus buffer
// pipeline.
type Camera struct {
	driver   Driver
	registry *buffer.Registry

	SafeQueueConstant int
	SensorMidline     int
	MaxInterfaceFPS   float64
	TimestampHz       float64

	mu    sync.Mutex
	stack stateStack

	factory     *BufferFactory
	frameNumber int
	frameCount  int // <=0 means continuous
	nameTime    func() int64

	live *liveMode
}

// New wraps driver with a camera core that registers converted images
// into registry.
func New(driver Driver, registry *buffer.Registry) *Camera {
	return &Camera{
		driver:            driver,
		registry:          registry,
		SafeQueueConstant: defaultSafeQueueConstant,
		SensorMidline:     defaultSensorMidline,
		MaxInterfaceFPS:   defaultMaxInterfaceFPS,
		TimestampHz:       1e9,
		nameTime:          func() int64 { return 0 },
	}
}

// SafeQueueDepth returns the maximum number of images the camera's RAM
// can hold without dropping frames, for the current AOI.
func (c *Camera) SafeQueueDepth() (int, error) {
	top, err := c.driver.GetInt(FeatureAOITop)
	if err != nil {
		return 0, err
	}
	height, err := c.driver.GetInt(FeatureAOIHeight)
	if err != nil {
		return 0, err
	}
	return c.safeQueueDepth(int(top), int(height)), nil
}

func (c *Camera) safeQueueDepth(aoiTop, aoiHeight int) int {
	bottom := aoiTop + aoiHeight
	above := c.SensorMidline - aoiTop
	below := bottom - c.SensorMidline
	lines := above
	if below > lines {
		lines = below
	}
	if lines <= 0 {
		lines = 1
	}
	return c.SafeQueueConstant/lines + 20
}

// setOverlapEnabled applies overlap_enabled, except that disabling it
// while in rolling-shutter + software-trigger is silently ignored: the
// device rejects that particular write, but there is nothing to undo
// since overlap can never have been legally enabled in that state to
// begin with (B5).
func (c *Camera) setOverlapEnabled(v bool) error {
	if !v {
		shutterMode, err := c.driver.GetEnum(FeatureShutterMode)
		if err != nil {
			return err
		}
		triggerMode, err := c.driver.GetEnum(FeatureTriggerMode)
		if err != nil {
			return err
		}
		if shutterMode == "Rolling" && triggerMode == "Software" {
			return nil
		}
	}
	return c.driver.SetBool(FeatureOverlapEnabled, v)
}

// getRaw/setRaw bridge the tagged-union Value to the Driver's
// Get*/Set* calls, by Feature kind.
func (c *Camera) getRaw(f Feature) (Value, error) {
	switch f {
	case FeatureOverlapEnabled, FeatureSelectedIOInverted:
		v, err := c.driver.GetBool(f)
		return BoolValue(v), err
	case FeatureFrameCount, FeatureBinning, FeatureAOILeft, FeatureAOITop, FeatureAOIWidth, FeatureAOIHeight:
		v, err := c.driver.GetInt(f)
		return IntValue(v), err
	case FeatureExposureTime, FeatureReadoutRate, FeatureFrameRate:
		v, err := c.driver.GetFloat(f)
		return FloatValue(v), err
	case FeatureLiveMode:
		v, err := c.driver.GetBool(f)
		return BoolValue(v), err
	default:
		v, err := c.driver.GetEnum(f)
		return EnumValue(v), err
	}
}

func (c *Camera) setRaw(f Feature, v Value) error {
	if f == FeatureOverlapEnabled && v.Kind == KindBool {
		return c.setOverlapEnabled(v.Bool)
	}
	switch v.Kind {
	case KindBool:
		return c.driver.SetBool(f, v.Bool)
	case KindInt:
		return c.driver.SetInt(f, v.Int)
	case KindFloat:
		return c.driver.SetFloat(f, v.Float)
	case KindString:
		return c.driver.SetString(f, v.String)
	case KindEnum:
		return c.driver.SetEnum(f, v.Enum)
	default:
		return fmt.Errorf("camera: invalid value kind %v for %s", v.Kind, f)
	}
}

// liveGuardedWrite pauses live mode around a direct feature write and
// resumes it afterward, regardless of whether the write succeeded.
func (c *Camera) liveGuardedWrite(write func() error) error {
	wasLive := c.live != nil && c.live.running()
	if wasLive {
		if err := c.SetLiveMode(false); err != nil {
			return err
		}
	}
	err := write()
	if wasLive {
		if rerr := c.SetLiveMode(true); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (c *Camera) SetInt(f Feature, v int64) error {
	return c.liveGuardedWrite(func() error { return c.driver.SetInt(f, v) })
}

func (c *Camera) SetFloat(f Feature, v float64) error {
	return c.liveGuardedWrite(func() error { return c.driver.SetFloat(f, v) })
}

func (c *Camera) SetBool(f Feature, v bool) error {
	return c.liveGuardedWrite(func() error { return c.driver.SetBool(f, v) })
}

func (c *Camera) SetEnum(f Feature, v string) error {
	return c.liveGuardedWrite(func() error { return c.driver.SetEnum(f, v) })
}

func (c *Camera) GetInt(f Feature) (int64, error)       { return c.driver.GetInt(f) }
func (c *Camera) GetFloat(f Feature) (float64, error)   { return c.driver.GetFloat(f) }
func (c *Camera) GetBool(f Feature) (bool, error)       { return c.driver.GetBool(f) }
func (c *Camera) GetEnum(f Feature) (string, error)     { return c.driver.GetEnum(f) }

// SetAOI applies left/top/width/height in ascending-signed-delta order
// from their current values, so every intermediate state is legal even
// when only the final, joint state is.
type aoiComponent struct {
	feature Feature
	value   int64
}

func (c *Camera) SetAOI(left, top, width, height *int64) error {
	var comps []aoiComponent
	deltas := map[Feature]int64{}
	get := func(f Feature, v *int64) error {
		if v == nil {
			return nil
		}
		cur, err := c.driver.GetInt(f)
		if err != nil {
			return err
		}
		deltas[f] = *v - cur
		comps = append(comps, aoiComponent{f, *v})
		return nil
	}
	if err := get(FeatureAOILeft, left); err != nil {
		return err
	}
	if err := get(FeatureAOITop, top); err != nil {
		return err
	}
	if err := get(FeatureAOIWidth, width); err != nil {
		return err
	}
	if err := get(FeatureAOIHeight, height); err != nil {
		return err
	}

	sortComponentsByDelta(comps, deltas)

	return c.liveGuardedWrite(func() error {
		for _, comp := range comps {
			if err := c.driver.SetInt(comp.feature, comp.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func sortComponentsByDelta(comps []aoiComponent, deltas map[Feature]int64) {
	for i := 1; i < len(comps); i++ {
		for j := i; j > 0 && deltas[comps[j-1].feature] > deltas[comps[j].feature]; j-- {
			comps[j-1], comps[j] = comps[j], comps[j-1]
		}
	}
}

// StartImageSequenceAcquisition begins a bounded or continuous
// acquisition. frameCount <= 0 means continuous (Cycle mode
// "Continuous").
func (c *Camera) StartImageSequenceAcquisition(frameCount int, triggerMode string, state map[Feature]Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kv := map[Feature]Value{FeatureLiveMode: BoolValue(false)}
	for f, v := range state {
		kv[f] = v
	}
	cycleMode := "Continuous"
	if frameCount > 0 {
		cycleMode = "Fixed"
		kv[FeatureFrameCount] = IntValue(int64(frameCount))
	}
	kv[FeatureCycleMode] = EnumValue(cycleMode)
	kv[FeatureTriggerMode] = EnumValue(triggerMode)

	if err := c.pushState(kv); err != nil {
		return err
	}
	if err := c.driver.Flush(); err != nil {
		return err
	}

	width, err := c.driver.GetInt(FeatureAOIWidth)
	if err != nil {
		return err
	}
	height, err := c.driver.GetInt(FeatureAOIHeight)
	if err != nil {
		return err
	}
	stride := int(width) * 2

	c.factory = newBufferFactory(int(width), int(height), stride, fmt.Sprintf("seq-%d", c.nameTime()))
	c.frameNumber = 0
	c.frameCount = frameCount

	toQueue := frameCount
	if toQueue <= 0 {
		toQueue = 1
	}
	if maxByMemory := (1 << 30) / c.factory.rawImageBytes(); toQueue > maxByMemory {
		toQueue = maxByMemory
	}
	if frameCount > 0 && toQueue > frameCount {
		toQueue = frameCount
	}
	for i := 0; i < toQueue; i++ {
		if err := c.driver.QueueBuffer(make([]byte, c.factory.rawImageBytes())); err != nil {
			return err
		}
		c.factory.enqueueRaw()
	}

	return c.driver.Command(CommandAcquisitionStart)
}

// NextImageAndMetadata retrieves and converts the next image, queueing
// a fresh raw buffer first if none is currently in flight, and returns
// its registry name, sensor-clock timestamp (seconds), and frame
// number.
func (c *Camera) NextImageAndMetadata(timeout time.Duration) (name string, timestamp float64, frameNumber int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.factory == nil {
		return "", 0, 0, errors.New("camera: no acquisition in progress")
	}
	// A buffer is already in flight for this call if the FIFO has an
	// outstanding ticket from StartImageSequenceAcquisition's eager
	// queue; otherwise queue one now, regardless of cycle mode, so a
	// Fixed acquisition whose frame count exceeds the eager queue's
	// 1 GiB cap keeps delivering images instead of stalling.
	if !c.factory.dequeueRaw() {
		if err := c.driver.QueueBuffer(make([]byte, c.factory.rawImageBytes())); err != nil {
			return "", 0, 0, err
		}
	}

	raw, err := c.driver.WaitBuffer(int(timeout / time.Millisecond))
	if err != nil {
		return "", 0, 0, err
	}

	buf, err := c.registry.Create(c.factory.nextName(), c.factory.Height, c.factory.Width)
	if err != nil {
		return "", 0, 0, err
	}
	c.factory.convert(raw, buf.Data())

	ticks, err := extractTimestamp(raw)
	ts := 0.0
	if err == nil {
		ts = float64(ticks) / c.TimestampHz
	}

	c.registry.RegisterForTransfer(buf.Name, buf)
	c.frameNumber++
	return buf.Name, ts, c.frameNumber - 1, nil
}

// EndImageSequenceAcquisition stops acquisition, flushes the driver,
// and pops the single state frame StartImageSequenceAcquisition pushed.
func (c *Camera) EndImageSequenceAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stopErr := c.driver.Command(CommandAcquisitionStop)
	flushErr := c.driver.Flush()
	popErr := c.popState()
	c.factory = nil

	if stopErr != nil {
		return stopErr
	}
	if flushErr != nil {
		return flushErr
	}
	return popErr
}

// SetLiveMode starts or stops live mode through the liveMode
// controller installed by EnableLiveMode; without one it writes the
// live_mode feature to the driver directly. liveGuardedWrite uses it
// to pause and resume live mode.
func (c *Camera) SetLiveMode(on bool) error {
	if c.live == nil {
		return c.driver.SetBool(FeatureLiveMode, on)
	}
	if on {
		return c.live.start()
	}
	return c.live.stop()
}
