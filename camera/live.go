package camera

import (
	"sync"
	"time"
)

const (
	liveFPSWindow        = 10
	liveThrottleGap      = 10
	liveThrottleTarget   = 1
	liveStalledThreshold = 10
)

// liveMode runs the cooperating trigger/reader goroutine pair behind
// software-triggered live viewing. The reader must always be stopped
// before the trigger (invariant I7): otherwise it would block forever
// in WaitBuffer waiting for a trigger that will never come.
type liveMode struct {
	cam *Camera

	mu           sync.Mutex
	on           bool
	stopTrigger  chan struct{}
	stopReader   chan struct{}
	doneTrigger  chan struct{}
	doneReader   chan struct{}

	interval time.Duration

	triggerCount int
	readerCount  int
	stalled      int

	fpsWindow [liveFPSWindow]time.Duration
	fpsIdx    int
	fpsFilled int

	liveBufferName string
}

func newLiveMode(cam *Camera) *liveMode {
	return &liveMode{cam: cam, liveBufferName: "live"}
}

func (l *liveMode) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// start computes the trigger interval from the current exposure and
// readout time, and launches the reader thread followed by the trigger
// thread.
func (l *liveMode) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on {
		return nil
	}
	interval, err := l.calculateInterval()
	if err != nil {
		return err
	}
	l.interval = interval
	l.triggerCount, l.readerCount, l.stalled = 0, 0, 0
	l.fpsIdx, l.fpsFilled = 0, 0

	width, err := l.cam.driver.GetInt(FeatureAOIWidth)
	if err != nil {
		return err
	}
	height, err := l.cam.driver.GetInt(FeatureAOIHeight)
	if err != nil {
		return err
	}
	l.cam.factory = newBufferFactory(int(width), int(height), int(width)*2, "live")

	l.stopReader = make(chan struct{})
	l.stopTrigger = make(chan struct{})
	l.doneReader = make(chan struct{})
	l.doneTrigger = make(chan struct{})
	l.on = true

	go l.readerLoop(l.stopReader, l.doneReader)
	go l.triggerLoop(l.stopTrigger, l.doneTrigger)
	return nil
}

// stop halts the reader thread, waits for it to exit, then halts the
// trigger thread: invariant I7.
func (l *liveMode) stop() error {
	l.mu.Lock()
	if !l.on {
		l.mu.Unlock()
		return nil
	}
	stopReader, doneReader := l.stopReader, l.doneReader
	stopTrigger, doneTrigger := l.stopTrigger, l.doneTrigger
	l.on = false
	l.mu.Unlock()

	close(stopReader)
	<-doneReader
	close(stopTrigger)
	<-doneTrigger
	return nil
}

// calculateInterval derives the trigger-loop sleep interval from the
// current exposure time (falling back to readout time when exposure is
// shorter, since the sensor cannot be triggered faster than it can
// read out a frame without overlap).
func (l *liveMode) calculateInterval() (time.Duration, error) {
	exposureMs, err := l.cam.driver.GetFloat(FeatureExposureTime)
	if err != nil {
		return 0, err
	}
	readoutMs, err := l.cam.driver.GetFloat(FeatureReadoutRate)
	if err != nil {
		return 0, err
	}
	ms := exposureMs
	if readoutMs > ms {
		ms = readoutMs
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// readerTimeout is the WaitBuffer timeout the reader uses:
// 250 + 3000*interval (interval in seconds).
func readerTimeout(interval time.Duration) time.Duration {
	return 250*time.Millisecond + 3*interval
}

func (l *liveMode) triggerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-time.After(l.interval):
		}

		l.mu.Lock()
		gap := l.triggerCount - l.readerCount
		l.mu.Unlock()
		if gap > liveThrottleGap {
			for gap > liveThrottleTarget {
				select {
				case <-stop:
					return
				case <-time.After(l.interval):
				}
				l.mu.Lock()
				gap = l.triggerCount - l.readerCount
				l.mu.Unlock()
			}
		}

		if err := l.cam.driver.Command(CommandSoftwareTrigger); err != nil {
			continue
		}
		l.mu.Lock()
		l.triggerCount++
		l.mu.Unlock()
	}
}

func (l *liveMode) readerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := l.cam.driver.QueueBuffer(make([]byte, l.cam.factory.rawImageBytes())); err != nil {
			continue
		}

		start := time.Now()
		raw, err := l.cam.driver.WaitBuffer(int(readerTimeout(l.interval) / time.Millisecond))
		if err != nil {
			l.mu.Lock()
			l.stalled++
			stalled := l.stalled
			l.mu.Unlock()
			if stalled >= liveStalledThreshold {
				return
			}
			continue
		}
		l.mu.Lock()
		l.stalled = 0
		l.mu.Unlock()

		buf, err := l.cam.registry.Create(l.liveBufferName, l.cam.factory.Height, l.cam.factory.Width)
		if err != nil {
			continue
		}
		l.cam.factory.convert(raw, buf.Data())
		l.cam.registry.RegisterForTransfer(l.liveBufferName, buf)

		elapsed := time.Since(start)
		l.mu.Lock()
		l.fpsWindow[l.fpsIdx] = elapsed
		l.fpsIdx = (l.fpsIdx + 1) % liveFPSWindow
		if l.fpsFilled < liveFPSWindow {
			l.fpsFilled++
		}
		l.readerCount++
		l.mu.Unlock()
	}
}

// LiveFPS reports the current live-mode frame rate, averaged over the
// last (up to) 10 frames.
func (c *Camera) LiveFPS() float64 {
	if c.live == nil {
		return 0
	}
	c.live.mu.Lock()
	defer c.live.mu.Unlock()
	if c.live.fpsFilled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < c.live.fpsFilled; i++ {
		total += c.live.fpsWindow[i]
	}
	avg := total / time.Duration(c.live.fpsFilled)
	if avg == 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}

// EnableLiveMode installs a liveMode controller on c, required before
// SetLiveMode(true) can be used. Exercised lazily so cameras that never
// use live mode pay no cost.
func (c *Camera) EnableLiveMode() {
	if c.live == nil {
		c.live = newLiveMode(c)
	}
}

// SetLiveExposure changes the live-mode exposure time. If the new
// exposure stays on the same side of the readout-time boundary, the
// trigger interval and FPS window are simply reset (S5); otherwise
// live mode is paused and resumed around the write.
func (c *Camera) SetLiveExposure(exposureMs float64) error {
	if c.live == nil || !c.live.running() {
		return c.SetFloat(FeatureExposureTime, exposureMs)
	}
	readoutMs, err := c.driver.GetFloat(FeatureReadoutRate)
	if err != nil {
		return err
	}
	curMs, err := c.driver.GetFloat(FeatureExposureTime)
	if err != nil {
		return err
	}
	crossesBoundary := (curMs < readoutMs) != (exposureMs < readoutMs)

	if !crossesBoundary {
		if err := c.driver.SetFloat(FeatureExposureTime, exposureMs); err != nil {
			return err
		}
		c.live.mu.Lock()
		interval, ierr := c.live.calculateInterval()
		if ierr == nil {
			c.live.interval = interval
		}
		c.live.fpsIdx, c.live.fpsFilled = 0, 0
		c.live.mu.Unlock()
		return ierr
	}

	if err := c.SetLiveMode(false); err != nil {
		return err
	}
	if err := c.driver.SetFloat(FeatureExposureTime, exposureMs); err != nil {
		return err
	}
	return c.SetLiveMode(true)
}
