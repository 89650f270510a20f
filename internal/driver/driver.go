// Package driver defines the Driver contract — the abstraction over the
// platform's periodic audio pull callback — and its two implementations:
// a PortAudio-backed desktop driver and a synchronous fake driver for
// tests and non-hardware demos.
//
// The render-mutex try-lock start/stop idiom and the FadeCommand-driven
// volume control are adapted from this codebase's capture/playback loop
// management in its audio engine (stream Start/Stop sequencing guarded by
// a mutex, and channel-based command handoff into the render path).
package driver

import (
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"audioperflab/internal/partial"
	"audioperflab/internal/ringbuffer"
)

// Status is the driver's lifecycle/error state, queryable from a non-RT
// thread per the error-handling design's class-2 ("device-level failure")
// reporting contract.
type Status int32

const (
	StatusStopped Status = iota
	StatusRunning
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrInvalid is returned by Start when the driver has transitioned to the
// terminal Invalid status and can never start again.
var ErrInvalid = errors.New("driver: invalid (construction/teardown failed)")

// IOBuffer is the interleaved stereo float buffer pair delivered to and
// from RenderFunc. Input is nil when input is disabled. Both slices have
// length NumFrames*2 (L,R,L,R,...).
type IOBuffer struct {
	Input  []float32
	Output []float32
}

// RenderFunc is invoked once per buffer on the driver thread. hostTime is
// the buffer's presentation time in seconds. There is no render-flags
// parameter.
type RenderFunc func(hostTime float64, numFrames int, io *IOBuffer) error

// FadeCommand is posted to the real-time-safe command queue by
// SetOutputVolume and drained by the callback before rendering.
type FadeCommand struct {
	TargetVolume float32
	NumFrames    int
}

const fadeQueueCapacity = 16

// renderGate implements the try-lock start/stop idiom shared by every
// Driver implementation: held (locked) while stopped so the callback's
// TryLock fails and render becomes a no-op; unlocked while running so the
// callback's TryLock always succeeds immediately.
type renderGate struct {
	mu sync.Mutex
}

func newRenderGate() *renderGate {
	g := &renderGate{}
	g.mu.Lock() // start "stopped": callback trylock fails until Start unlocks it
	return g
}

func (g *renderGate) open()  { g.mu.Unlock() }
func (g *renderGate) close() { g.mu.Lock() }

// tryRender calls fn only if the gate is currently open, returning whether
// fn ran. This is the callback-side half of the idiom.
func (g *renderGate) tryRender(fn func()) bool {
	if !g.mu.TryLock() {
		return false
	}
	defer g.mu.Unlock()
	fn()
	return true
}

// VolumeFader wraps a RampedValue[float32] initialized to 1.0 and
// multiplies an interleaved stereo buffer in place whenever it is ramping
// or its value is not exactly 1.
type VolumeFader struct {
	ramp partial.RampedValue[float32]
}

// NewVolumeFader returns a fader at rest at unity gain.
func NewVolumeFader() *VolumeFader {
	return &VolumeFader{ramp: partial.NewRampedValue[float32](1.0)}
}

// RampTo starts (or restarts) a linear ramp to target over numFrames
// buffer frames.
func (f *VolumeFader) RampTo(target float32, numFrames int) {
	f.ramp.RampTo(target, numFrames)
}

// Value returns the fader's current value.
func (f *VolumeFader) Value() float32 { return f.ramp.Current() }

// SetValue jumps the fader to v immediately, cancelling any in-flight ramp.
func (f *VolumeFader) SetValue(v float32) { f.ramp.SetValue(v) }

// IsRamping reports whether the fader has not yet reached its target.
func (f *VolumeFader) IsRamping() bool { return f.ramp.IsRamping() }

// Apply multiplies numFrames frames of an interleaved stereo buffer by the
// fader's value, ticking one sample-frame per audio frame. No-ops (without
// ticking) when not ramping and already at unity, which is the common case
// and must stay allocation- and branch-light.
func (f *VolumeFader) Apply(buf []float32, numFrames int) {
	if !f.ramp.IsRamping() && f.ramp.Current() == 1 {
		return
	}
	for i := 0; i < numFrames; i++ {
		g := f.ramp.Tick()
		buf[2*i] *= g
		buf[2*i+1] *= g
	}
}

// Driver is the contract every backend (PortAudio, fake) satisfies.
type Driver struct {
	render RenderFunc
	gate   *renderGate

	sampleRate   atomic.Uint64 // float64 bits
	bufferSize   atomic.Int32
	inputEnabled atomic.Bool
	status       atomic.Int32

	fader     *VolumeFader
	fadeQueue *ringbuffer.Queue[FadeCommand]

	mu sync.Mutex // not used by the shared core; bufferSize is an atomic
}

// Config configures a Driver at construction time.
type Config struct {
	Render              RenderFunc
	SampleRate          float64
	PreferredBufferSize int
	InputEnabled        bool
	InitialVolume       float32
}

func newDriverCore(cfg Config) *Driver {
	d := &Driver{
		render:    cfg.Render,
		gate:      newRenderGate(),
		fader:     NewVolumeFader(),
		fadeQueue: ringbuffer.New[FadeCommand](fadeQueueCapacity),
	}
	d.sampleRate.Store(float64bits(cfg.SampleRate))
	d.bufferSize.Store(int32(cfg.PreferredBufferSize))
	d.inputEnabled.Store(cfg.InputEnabled)
	d.status.Store(int32(StatusStopped))
	if cfg.InitialVolume != 0 {
		d.fader.SetValue(cfg.InitialVolume)
	}
	return d
}

// SampleRate returns the cached sample rate; readable from the real-time
// thread without syscalls.
func (d *Driver) SampleRate() float64 { return float64frombits(d.sampleRate.Load()) }

// NominalBufferDuration returns numFrames/sampleRate for the currently
// configured preferred buffer size.
func (d *Driver) NominalBufferDuration() time.Duration {
	n := d.bufferSize.Load()
	sr := d.SampleRate()
	if sr <= 0 {
		return 0
	}
	return time.Duration(float64(n) / sr * float64(time.Second))
}

// Status returns the driver's current lifecycle state.
func (d *Driver) Status() Status { return Status(d.status.Load()) }

// SetPreferredBufferSize requests a new buffer size. The actual size in
// effect must be reobserved via subsequent callbacks (the platform is free
// to negotiate a different value); this only updates the cached hint used
// for NominalBufferDuration until that happens.
func (d *Driver) SetPreferredBufferSize(n int) {
	d.bufferSize.Store(int32(n))
}

// SetIsInputEnabled is intentionally not implemented on the shared core:
// per spec it may block for ~500ms tearing down/recreating the session,
// which is backend-specific (PortAudio vs fake) and implemented by each
// concrete driver.

// SetOutputVolume is real-time-safe: it always posts a FadeCommand (even a
// no-op fade, per SPEC_FULL.md's resolution of that open question) and
// never blocks. numFrames = fadeDuration*sampleRate, rounded up so the fade
// completes no later than requested.
func (d *Driver) SetOutputVolume(v float32, fadeDuration time.Duration) {
	if v < 0 {
		v = 0
	}
	sr := d.SampleRate()
	n := int(fadeDuration.Seconds()*sr + 0.999999)
	if !d.fadeQueue.TryPushBack(FadeCommand{TargetVolume: v, NumFrames: n}) {
		log.Printf("[driver] fade command queue full, dropping SetOutputVolume(%v, %v)", v, fadeDuration)
	}
}

// drainFadeCommands applies every queued FadeCommand to the fader. Called
// by the callback before rendering, never blocks, never allocates.
func (d *Driver) drainFadeCommands() {
	for {
		cmd, ok := d.fadeQueue.PopFront()
		if !ok {
			return
		}
		d.fader.RampTo(cmd.TargetVolume, cmd.NumFrames)
	}
}

// applyFade applies the current volume ramp to the output half of io,
// in place, after rendering.
func (d *Driver) applyFade(io *IOBuffer, numFrames int) {
	d.fader.Apply(io.Output, numFrames)
}

// renderOnce runs the try-lock-gated render: drains fade commands, calls
// the embedding engine's render function, then applies the fader. Returns
// false (no-op) if the gate was closed (driver stopped/invalid).
func (d *Driver) renderOnce(hostTime float64, numFrames int, io *IOBuffer) bool {
	ran := d.gate.tryRender(func() {
		d.drainFadeCommands()
		if err := d.render(hostTime, numFrames, io); err != nil {
			log.Printf("[driver] render callback error: %v", err)
			return
		}
		d.applyFade(io, numFrames)
	})
	return ran
}

func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }
