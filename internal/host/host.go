// Package host implements the fan-out/fan-in scheduler that sits between
// the platform driver's pull callback and the parallel sine bank: it wakes
// a pool of real-time worker threads once per buffer, waits for them to
// finish their share of the partial list, and enforces a configurable
// artificial-load floor so the performance controller never sees a buffer
// finish suspiciously early.
//
// The semaphore-pair dispatch (wake N workers, wait for N completions) and
// the stop/apply/restart idiom for thread-affecting mutators are modeled
// on this codebase's own worker-pool bring-up in its audio engine; Go's
// buffered channels stand in for the counting semaphores the original
// design calls for.
package host

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"audioperflab/internal/driver"
	"audioperflab/internal/lowenergy"
	"audioperflab/internal/measurement"
	"audioperflab/internal/sinebank"
	"audioperflab/internal/threadpolicy"
	"audioperflab/internal/workgroup"
)

// Callbacks is implemented by the embedding engine. RenderStarted is
// invoked before workers are woken, with time to read the input peak
// level and call the bank's Prepare; RenderEnded is invoked after every
// worker has signalled completion, with time to zero the output buffer,
// call the bank's MixTo, and enqueue a DriveMeasurement.
type Callbacks interface {
	RenderStarted(io *driver.IOBuffer, numFrames int)
	RenderEnded(io *driver.IOBuffer, hostTime float64, numFrames int)
}

// Config configures a Host at construction time.
type Config struct {
	NumProcessingThreads  int
	PreferredBufferSize   int
	SampleRate            float64
	ProcessInDriverThread bool
	WorkgroupEnabled      bool
	MinimumLoad           float64
}

// Host is the scheduler core. The zero value is not usable; construct
// with New.
type Host struct {
	bank      *sinebank.Bank
	callbacks Callbacks
	group     workgroup.Group

	mu      sync.Mutex // guards started/workers and thread-setup mutators
	started bool
	workers []*workerThread
	wg      sync.WaitGroup
	active  atomic.Bool

	numThreads            atomic.Int32
	preferredBufferSize   atomic.Int32
	sampleRate            atomic.Uint64 // float64 bits
	processInDriverThread atomic.Bool
	workgroupEnabled      atomic.Bool
	minimumLoad           atomic.Uint64 // float64 bits

	numFrames atomic.Int32
	workDone  chan struct{}

	cpuNumbers      [measurement.MaxNumThreads]atomic.Int32
	activeProcessed [measurement.MaxNumThreads]atomic.Int32
}

// New returns a Host scheduling work over bank, reporting buffer-start and
// buffer-end events to callbacks. Call Start to spawn its worker pool.
func New(bank *sinebank.Bank, callbacks Callbacks, cfg Config) *Host {
	h := &Host{
		bank:      bank,
		callbacks: callbacks,
		group:     workgroup.Discover(),
	}
	h.numThreads.Store(int32(cfg.NumProcessingThreads))
	h.preferredBufferSize.Store(int32(cfg.PreferredBufferSize))
	h.sampleRate.Store(math.Float64bits(cfg.SampleRate))
	h.processInDriverThread.Store(cfg.ProcessInDriverThread)
	h.workgroupEnabled.Store(cfg.WorkgroupEnabled)
	h.minimumLoad.Store(math.Float64bits(cfg.MinimumLoad))
	for i := range h.cpuNumbers {
		h.cpuNumbers[i].Store(-1)
		h.activeProcessed[i].Store(-1)
	}
	return h
}

// NumProcessingThreads returns the total degree of parallelism, including
// the driver thread's own contribution when ProcessInDriverThread is set.
func (h *Host) NumProcessingThreads() int { return int(h.numThreads.Load()) }

// SampleRate returns the sample rate used to compute each worker's
// real-time time-constraint policy and ensureMinimumLoad's deadline.
func (h *Host) SampleRate() float64 { return math.Float64frombits(h.sampleRate.Load()) }

// SetSampleRate updates the cached sample rate. RT-safe: does not restart
// the worker pool. Workers already constructed keep the time-constraint
// policy computed at their own construction time.
func (h *Host) SetSampleRate(sr float64) { h.sampleRate.Store(math.Float64bits(sr)) }

// nominalBufferDuration returns numFrames/sampleRate for the currently
// configured preferred buffer size.
func (h *Host) nominalBufferDuration() time.Duration {
	n := h.preferredBufferSize.Load()
	sr := h.SampleRate()
	if sr <= 0 {
		return 0
	}
	return time.Duration(float64(n) / sr * float64(time.Second))
}

// MinimumLoad returns the current artificial-load floor, a fraction of
// buffer duration in [0,1].
func (h *Host) MinimumLoad() float64 { return math.Float64frombits(h.minimumLoad.Load()) }

// SetMinimumLoad updates the artificial-load floor. RT-safe per spec: it
// is read fresh by ensureMinimumLoad every buffer without any restart.
func (h *Host) SetMinimumLoad(v float64) { h.minimumLoad.Store(math.Float64bits(v)) }

// ProcessInDriverThread reports whether the driver callback thread itself
// claims and processes chunks synchronously as thread index 0, alongside
// the spawned workers.
func (h *Host) ProcessInDriverThread() bool { return h.processInDriverThread.Load() }

// SetProcessInDriverThread updates the driver-thread-participates flag.
// This shifts every spawned worker's index (index 0 moves between the
// driver thread and worker[0] depending on the flag), so it is not
// RT-safe like MinimumLoad: it stops, applies, and restarts the worker
// pool like the other thread-setup mutators, to keep spawnLocked's index
// assignment consistent with what Render dispatches.
func (h *Host) SetProcessInDriverThread(b bool) {
	h.reconfigure(func() { h.processInDriverThread.Store(b) })
}

// SetNumProcessingThreads changes the worker pool size. This affects
// thread setup, so if the host is currently started it stops, applies the
// change, and restarts.
func (h *Host) SetNumProcessingThreads(n int) {
	h.reconfigure(func() { h.numThreads.Store(int32(n)) })
}

// SetWorkgroupEnabled changes whether workers join the discovered
// workgroup. Affects thread setup; restarts if currently started.
func (h *Host) SetWorkgroupEnabled(b bool) {
	h.reconfigure(func() { h.workgroupEnabled.Store(b) })
}

// SetPreferredBufferSize updates the buffer size used to compute each
// worker's time-constraint policy at (re)construction. Affects thread
// setup; restarts if currently started.
func (h *Host) SetPreferredBufferSize(n int) {
	h.reconfigure(func() { h.preferredBufferSize.Store(int32(n)) })
}

func (h *Host) reconfigure(apply func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wasStarted := h.started
	if wasStarted {
		h.teardownLocked()
	}
	apply()
	if wasStarted {
		h.spawnLocked()
	}
}

// Start spawns the worker pool. Idempotent.
func (h *Host) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.spawnLocked()
	h.started = true
}

// Stop tears down the worker pool, blocking until every worker has
// exited. Idempotent.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.teardownLocked()
	h.started = false
}

func (h *Host) spawnLocked() {
	n := int(h.numThreads.Load())
	if n < 0 {
		n = 0
	}
	driverOccupiesSlot0 := h.processInDriverThread.Load()
	numSpawned := n
	startIdx := 0
	if driverOccupiesSlot0 && n > 0 {
		numSpawned = n - 1
		startIdx = 1
	}

	h.bank.SetNumThreads(n)
	h.active.Store(true)
	h.workDone = make(chan struct{}, numSpawned)
	h.workers = make([]*workerThread, numSpawned)
	for i := 0; i < numSpawned; i++ {
		w := &workerThread{idx: startIdx + i, host: h, startCh: make(chan struct{}, 1)}
		h.workers[i] = w
		h.wg.Add(1)
		go w.run()
	}
}

func (h *Host) teardownLocked() {
	h.active.Store(false)
	for _, w := range h.workers {
		w.startCh <- struct{}{}
	}
	h.wg.Wait()
	h.workers = nil
}

// Render is the driver.RenderFunc implementing the per-buffer protocol:
// notify the engine of buffer start, wake every worker, optionally
// process as thread index 0 inline, wait for every worker to finish, notify the
// engine of buffer end, and — inline only — enforce the minimum-load
// floor.
func (h *Host) Render(hostTime float64, numFrames int, io *driver.IOBuffer) error {
	bufferStart := time.Now()
	h.numFrames.Store(int32(numFrames))

	h.callbacks.RenderStarted(io, numFrames)

	h.mu.Lock()
	workers := h.workers
	h.mu.Unlock()

	for _, w := range workers {
		w.startCh <- struct{}{}
	}

	inline := h.processInDriverThread.Load()
	if inline {
		processed := h.bank.Process(0, numFrames)
		h.recordThreadStats(0, threadpolicy.CurrentCPU(), processed)
	}

	for i := 0; i < len(workers); i++ {
		<-h.workDone
	}

	h.callbacks.RenderEnded(io, hostTime, numFrames)

	if inline {
		h.ensureMinimumLoad(bufferStart, numFrames)
	}
	return nil
}

// ensureMinimumLoad busy-waits on low-energy-wait instructions until at
// least minimumLoad·(numFrames/sampleRate) has elapsed since start, or
// returns immediately if minimumLoad <= 0.
func (h *Host) ensureMinimumLoad(start time.Time, numFrames int) {
	minLoad := h.MinimumLoad()
	if minLoad <= 0 {
		return
	}
	sr := h.SampleRate()
	if sr <= 0 {
		return
	}
	targetEnd := start.Add(time.Duration(float64(numFrames) / sr * minLoad * float64(time.Second)))
	for time.Now().Before(targetEnd) {
		lowenergy.Batch()
	}
}

func (h *Host) recordThreadStats(idx, cpu, activeProcessed int) {
	if idx < 0 || idx >= len(h.cpuNumbers) {
		return
	}
	h.cpuNumbers[idx].Store(int32(cpu))
	h.activeProcessed[idx].Store(int32(activeProcessed))
}

// CPUAttribution returns a snapshot of the per-thread CPU core number and
// active-partials-processed count written after each buffer, for the
// visualization-only DriveMeasurement fields. Unwritten slots read -1.
func (h *Host) CPUAttribution() (cpu, activeProcessed [measurement.MaxNumThreads]int32) {
	for i := range h.cpuNumbers {
		cpu[i] = h.cpuNumbers[i].Load()
		activeProcessed[i] = h.activeProcessed[i].Load()
	}
	return
}
