package driver

import (
	"sync"
	"sync/atomic"
	"time"
)

// FakeDriver is a software Driver used by tests, the package example, and
// any demo run without real audio hardware. It satisfies the same
// try-lock/FadeCommand contract as PortAudioDriver but drives the render
// callback from a goroutine ticking at the nominal buffer duration (Start)
// or synchronously on demand (Tick, for deterministic tests).
type FakeDriver struct {
	*Driver

	numFrames int
	startedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	ticks  atomic.Int64
}

// NewFakeDriver returns a stopped FakeDriver.
func NewFakeDriver(cfg Config) *FakeDriver {
	return &FakeDriver{
		Driver:    newDriverCore(cfg),
		numFrames: cfg.PreferredBufferSize,
	}
}

// Start opens the render gate and launches the ticking goroutine.
func (f *FakeDriver) Start() error {
	if f.Status() == StatusInvalid {
		return ErrInvalid
	}
	f.startedAt = time.Now()
	f.stopCh = make(chan struct{})
	f.status.Store(int32(StatusRunning))
	f.gate.open()

	dur := f.NominalBufferDuration()
	if dur <= 0 {
		dur = time.Millisecond
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		t := time.NewTicker(dur)
		defer t.Stop()
		for {
			select {
			case <-f.stopCh:
				return
			case <-t.C:
				f.pump()
			}
		}
	}()
	return nil
}

// Stop closes the render gate (blocking until any in-flight render
// completes) and joins the ticking goroutine.
func (f *FakeDriver) Stop() {
	if f.Status() != StatusRunning {
		return
	}
	close(f.stopCh)
	f.wg.Wait()
	f.gate.close()
	f.status.Store(int32(StatusStopped))
}

// SetIsInputEnabled toggles whether Tick synthesizes an input buffer.
// Unlike the real platform driver this never blocks: there is no audio
// session to tear down and recreate.
func (f *FakeDriver) SetIsInputEnabled(enabled bool) error {
	f.inputEnabled.Store(enabled)
	return nil
}

func (f *FakeDriver) pump() {
	n := int(f.bufferSize.Load())
	hostTime := time.Since(f.startedAt).Seconds()
	f.Tick(n, hostTime)
}

// Tick synchronously runs one render cycle with a freshly allocated,
// zeroed interleaved buffer of the given size, for deterministic tests
// that don't want to wait on the ticker. Returns whether the render
// actually ran (false if the gate was closed).
func (f *FakeDriver) Tick(numFrames int, hostTime float64) bool {
	f.ticks.Add(1)
	io := &IOBuffer{
		Output: make([]float32, numFrames*2),
	}
	if f.inputEnabled.Load() {
		io.Input = make([]float32, numFrames*2)
	}
	return f.renderOnce(hostTime, numFrames, io)
}

// Ticks returns the number of times Tick/pump has run, for test assertions.
func (f *FakeDriver) Ticks() int64 { return f.ticks.Load() }

// TickWithInput is Tick but with a caller-supplied interleaved input
// buffer, for tests exercising InputPeakLevel.
func (f *FakeDriver) TickWithInput(numFrames int, hostTime float64, input []float32) bool {
	f.ticks.Add(1)
	io := &IOBuffer{
		Output: make([]float32, numFrames*2),
		Input:  input,
	}
	return f.renderOnce(hostTime, numFrames, io)
}
