// Package audioperflab wires the audio scheduling host, the parallel sine
// bank, the output driver, and the CPU-throttling mitigations into a
// single embeddable Engine. Everything platform-specific or
// hardware-backed is reached through narrow interfaces so the same Engine
// runs identically against a real device or a FakeDriver in tests.
package audioperflab

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"audioperflab/internal/busythreads"
	"audioperflab/internal/driver"
	"audioperflab/internal/host"
	"audioperflab/internal/measurement"
	"audioperflab/internal/partial"
	"audioperflab/internal/ringbuffer"
	"audioperflab/internal/sinebank"
)

// measurementQueueCapacity bounds the SPSC ring the render callback
// enqueues DriveMeasurements into; with a slow UI-side drain the ring
// fills and the render callback drops each new measurement rather than
// blocking the audio thread.
const measurementQueueCapacity = 64

// DriverHandle is the subset of the driver contract Engine depends on,
// satisfied by both *driver.FakeDriver and *driver.PortAudioDriver.
type DriverHandle interface {
	Start() error
	Stop()
	SetIsInputEnabled(enabled bool) error
	SampleRate() float64
	NominalBufferDuration() time.Duration
	Status() driver.Status
	SetPreferredBufferSize(n int)
	SetOutputVolume(v float32, fadeDuration time.Duration)
}

// NewDriverFunc constructs the concrete driver backend an Engine drives.
// Passed in by the caller so tests can supply driver.NewFakeDriver and a
// real build can supply driver.NewPortAudioDriver without Engine needing
// to know about either.
type NewDriverFunc func(cfg driver.Config) (DriverHandle, error)

// Options configures a new Engine.
type Options struct {
	Config     EngineConfig
	SampleRate float64
	NewDriver  NewDriverFunc
}

// Engine is the embeddable audio scheduling and synthesis core.
type Engine struct {
	bank *sinebank.Bank
	host *host.Host
	drv  DriverHandle
	busy *busythreads.Pool

	measurements *ringbuffer.Queue[measurement.Drive]

	mu       sync.Mutex
	cfg      EngineConfig
	partials []partial.Partial

	numActivePartials atomic.Int32
	lastInputPeakBits atomic.Uint32

	lastRenderStart time.Time // driver-thread-only; never read/written concurrently
}

// NewEngine constructs an Engine and its driver backend but does not start
// either. SetPartials must be called before Start for any audio to be
// produced.
func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		bank:         sinebank.New(),
		cfg:          opts.Config,
		measurements: ringbuffer.New[measurement.Drive](measurementQueueCapacity),
	}

	e.host = host.New(e.bank, e, host.Config{
		NumProcessingThreads:  opts.Config.NumProcessingThreads,
		PreferredBufferSize:   opts.Config.PreferredBufferSize,
		SampleRate:            opts.SampleRate,
		ProcessInDriverThread: opts.Config.ProcessInDriverThread,
		WorkgroupEnabled:      opts.Config.WorkgroupEnabled,
		MinimumLoad:           opts.Config.MinimumLoad,
	})

	drv, err := opts.NewDriver(driver.Config{
		Render:              e.host.Render,
		SampleRate:          opts.SampleRate,
		PreferredBufferSize: opts.Config.PreferredBufferSize,
		InputEnabled:        opts.Config.InputEnabled,
		InitialVolume:       1,
	})
	if err != nil {
		return nil, err
	}
	e.drv = drv

	e.busy = busythreads.NewPool(opts.Config.NumBusyThreads, opts.Config.BusyThreadPeriod, opts.Config.BusyThreadCPU)

	return e, nil
}

// Start brings up the worker pool, the driver, and the busy-thread pool,
// in that order so workers are ready before the first callback can land.
// If the driver fails to start, the worker pool is torn back down.
func (e *Engine) Start() error {
	e.host.Start()
	if err := e.drv.Start(); err != nil {
		e.host.Stop()
		return err
	}
	e.busy.Start()
	return nil
}

// Stop tears everything down in reverse order. Idempotent to the extent
// its parts are.
func (e *Engine) Stop() {
	e.busy.Stop()
	e.drv.Stop()
	e.host.Stop()
}

// SetPartials replaces the chord's partial list. Precondition, inherited
// from the underlying bank: only safe to call while the engine is
// stopped. list must already be sorted ascending by PhaseInc.
func (e *Engine) SetPartials(list []partial.Partial) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.partials = list
	e.bank.SetPartials(list)
}

// NumPartials returns the total number of partials currently loaded.
func (e *Engine) NumPartials() int { return e.bank.NumPartials() }

// SetNumActivePartials sets how many of the loaded partials (counting
// from index 0) are audible; the rest ramp to silence. RT-safe: read
// fresh by the next RenderStarted.
func (e *Engine) SetNumActivePartials(n int) { e.numActivePartials.Store(int32(n)) }

// Status reports the driver's current lifecycle state.
func (e *Engine) Status() driver.Status { return e.drv.Status() }

// Driver returns the concrete driver backend this engine was constructed
// with, for callers that need to drive it directly (e.g. FakeDriver.Tick
// in tests and demos).
func (e *Engine) Driver() DriverHandle { return e.drv }

// CurrentPreset reports which named preset the engine's live configuration
// matches, or "Custom" if it has drifted from both.
func (e *Engine) CurrentPreset() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PresetName(e.cfg)
}

// SetOutputVolume requests a fade to v over fadeDuration. Real-time-safe.
func (e *Engine) SetOutputVolume(v float32, fadeDuration time.Duration) {
	e.drv.SetOutputVolume(v, fadeDuration)
}

// SetMinimumLoad updates the artificial-load floor without restarting the
// worker pool.
func (e *Engine) SetMinimumLoad(v float64) {
	e.mu.Lock()
	e.cfg.MinimumLoad = v
	e.mu.Unlock()
	e.host.SetMinimumLoad(v)
}

// SetProcessInDriverThread updates whether the driver thread itself
// processes a chunk inline. Restarts the worker pool if currently running,
// since it shifts worker index assignment.
func (e *Engine) SetProcessInDriverThread(b bool) {
	e.mu.Lock()
	e.cfg.ProcessInDriverThread = b
	e.mu.Unlock()
	e.host.SetProcessInDriverThread(b)
}

// SetNumProcessingThreads resizes the worker pool, restarting it if the
// engine is currently running.
func (e *Engine) SetNumProcessingThreads(n int) {
	e.mu.Lock()
	e.cfg.NumProcessingThreads = n
	e.mu.Unlock()
	e.host.SetNumProcessingThreads(n)
}

// SetWorkgroupEnabled toggles whether workers join the discovered
// workgroup, restarting the worker pool if currently running.
func (e *Engine) SetWorkgroupEnabled(b bool) {
	e.mu.Lock()
	e.cfg.WorkgroupEnabled = b
	e.mu.Unlock()
	e.host.SetWorkgroupEnabled(b)
}

// SetBusyThreads rebuilds the busy-thread pool to n threads with the given
// period and cpu-usage fraction, live per busythreads.Pool.Resize.
func (e *Engine) SetBusyThreads(n int, period time.Duration, cpuUsage float64) {
	e.mu.Lock()
	e.cfg.NumBusyThreads = n
	e.cfg.BusyThreadPeriod = period
	e.cfg.BusyThreadCPU = cpuUsage
	e.mu.Unlock()
	e.busy.Resize(n, period, cpuUsage)
}

// FetchMeasurements drains up to len(out) pending DriveMeasurements into
// out, oldest first, returning the number written. Never blocks. The
// measurement ring has a single consumer, so only one goroutine at a time
// may call this.
func (e *Engine) FetchMeasurements(out []measurement.Drive) int {
	n := 0
	for n < len(out) {
		d, ok := e.measurements.PopFront()
		if !ok {
			break
		}
		out[n] = d
		n++
	}
	return n
}

// RenderStarted implements host.Callbacks. Called on the driver thread at
// the start of every buffer.
func (e *Engine) RenderStarted(io *driver.IOBuffer, numFrames int) {
	e.lastRenderStart = time.Now()
	if io.Input != nil {
		e.lastInputPeakBits.Store(math.Float32bits(measurement.PeakLevel(io.Input)))
	}
	e.bank.Prepare(int(e.numActivePartials.Load()), numFrames)
}

// RenderEnded implements host.Callbacks. Called on the driver thread after
// every worker has signalled completion for this buffer.
func (e *Engine) RenderEnded(io *driver.IOBuffer, hostTime float64, numFrames int) {
	for i := range io.Output {
		io.Output[i] = 0
	}

	var left, right [sinebank.MaxNumFrames]float32
	e.bank.MixTo(left[:numFrames], right[:numFrames], numFrames)
	for i := 0; i < numFrames; i++ {
		io.Output[2*i] = left[i]
		io.Output[2*i+1] = right[i]
	}

	d := measurement.NewDrive()
	d.HostTime = hostTime
	d.Duration = time.Since(e.lastRenderStart).Seconds()
	d.NumFrames = int32(numFrames)
	d.CPUNumbers, d.NumActivePartialsProcessed = e.host.CPUAttribution()
	d.InputPeakLevel = math.Float32frombits(e.lastInputPeakBits.Load())

	e.measurements.TryPushBack(d) // soft drop on a full queue: class-3 error handling
}
