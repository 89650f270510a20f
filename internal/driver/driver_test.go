package driver

import (
	"sync/atomic"
	"testing"
	"time"
)

func nopRender(hostTime float64, numFrames int, io *IOBuffer) error {
	for i := range io.Output {
		io.Output[i] = 1 // easy to see fader attenuation
	}
	return nil
}

// Invariant 7: RampedValue / VolumeFader exactness.
func TestVolumeFaderTicksToTarget(t *testing.T) {
	f := NewVolumeFader()
	f.RampTo(0, 4)
	buf := make([]float32, 4*2)
	for i := range buf {
		buf[i] = 1
	}
	f.Apply(buf, 4)
	if f.Value() != 0 {
		t.Fatalf("value after 4 ticks = %v, want 0", f.Value())
	}
	if f.IsRamping() {
		t.Fatalf("still ramping after reaching target")
	}
}

func TestVolumeFaderSetValue(t *testing.T) {
	f := NewVolumeFader()
	f.RampTo(0.2, 10)
	f.SetValue(0.5)
	if f.Value() != 0.5 || f.IsRamping() {
		t.Fatalf("SetValue did not jump immediately: value=%v ramping=%v", f.Value(), f.IsRamping())
	}
}

// S6: after a fade-to-zero command, each buffer's peak falls monotonically
// and reaches zero within the 50 buffers rendered.
func TestSetOutputVolumeFadesToZero(t *testing.T) {
	const sr = 48000.0
	const numFrames = 128
	d := NewFakeDriver(Config{Render: nopRender, SampleRate: sr, PreferredBufferSize: numFrames, InitialVolume: 1})
	d.status.Store(int32(StatusRunning))
	d.gate.open()

	d.SetOutputVolume(0, 10*time.Millisecond)

	var lastPeak float32 = 1
	buffersNeeded := 0
	for i := 0; i < 50; i++ {
		io := &IOBuffer{Output: make([]float32, numFrames*2)}
		for j := range io.Output {
			io.Output[j] = 1
		}
		d.renderOnce(float64(i)*float64(numFrames)/sr, numFrames, io)
		peak := peakOf(io.Output)
		if peak > lastPeak+1e-6 {
			t.Fatalf("peak increased from %v to %v at buffer %d: fade must be monotonic", lastPeak, peak, i)
		}
		lastPeak = peak
		buffersNeeded++
		if peak == 0 {
			break
		}
	}
	if lastPeak != 0 {
		t.Fatalf("output never reached zero after fade; last peak %v", lastPeak)
	}
}

func peakOf(buf []float32) float32 {
	var p float32
	for _, v := range buf {
		a := v
		if a < 0 {
			a = -a
		}
		if a > p {
			p = a
		}
	}
	return p
}

// S4-adjacent: render is a no-op while the gate is closed (driver stopped).
func TestRenderNoopWhileStopped(t *testing.T) {
	var calls atomic.Int32
	render := func(hostTime float64, numFrames int, io *IOBuffer) error {
		calls.Add(1)
		return nil
	}
	d := NewFakeDriver(Config{Render: render, SampleRate: 48000, PreferredBufferSize: 64})
	ok := d.Tick(64, 0)
	if ok {
		t.Fatalf("render ran while driver stopped")
	}
	if calls.Load() != 0 {
		t.Fatalf("render callback invoked while stopped")
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Tick(64, 0) {
		t.Fatalf("render did not run while started")
	}
	if calls.Load() != 1 {
		t.Fatalf("render callback invoked %d times, want 1", calls.Load())
	}
	d.Stop()

	if d.Tick(64, 0) {
		t.Fatalf("render ran after Stop")
	}
}

func TestFadeQueueDropsSilentlyWhenFull(t *testing.T) {
	d := NewFakeDriver(Config{Render: nopRender, SampleRate: 48000, PreferredBufferSize: 64})
	for i := 0; i < fadeQueueCapacity+5; i++ {
		d.SetOutputVolume(float32(i)/10, time.Millisecond)
	}
	// Must not panic or block; queue capacity caps at fadeQueueCapacity-1 usable slots.
	drained := 0
	for {
		if _, ok := d.fadeQueue.PopFront(); !ok {
			break
		}
		drained++
	}
	if drained > fadeQueueCapacity {
		t.Fatalf("drained %d commands, more than capacity %d", drained, fadeQueueCapacity)
	}
}
