// Package busythreads implements the CPU-throttling mitigation described
// for the audio core: a pool of low-priority threads that alternate
// between blocking for most of their period and busy-looping on
// low-energy-wait instructions for the rest, which keeps the performance
// controller from parking sibling audio threads on efficiency cores.
package busythreads

import (
	"sync"
	"time"

	"audioperflab/internal/lowenergy"
)

// DefaultPeriod is the default period of a BusyThread.
const DefaultPeriod = 35 * time.Millisecond

// Thread is a single busy thread: a mutex + condition variable guarding
// its period, cpu-usage fraction, and active flag, run on its own
// goroutine. The zero value is not usable; construct with New.
type Thread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	period   time.Duration
	cpuUsage float64
	active   bool
	stopped  chan struct{}
}

// New returns a Thread with the given period and cpu-usage fraction
// (clamped to [0,1]), not yet running.
func New(period time.Duration, cpuUsage float64) *Thread {
	t := &Thread{
		period:   period,
		cpuUsage: clamp01(cpuUsage),
		active:   true,
		stopped:  make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Start launches the block/low-energy-work loop.
func (t *Thread) Start() {
	go t.run()
}

// SetPeriod updates the period. The new value is visible no later than the
// start of the next iteration, and the thread is woken immediately so a
// currently blocking iteration re-reads it promptly rather than waiting
// out the old, possibly much longer, period.
func (t *Thread) SetPeriod(period time.Duration) {
	t.mu.Lock()
	t.period = period
	t.mu.Unlock()
	t.cond.Broadcast()
}

// SetCPUUsage updates the duty-cycle fraction with the same live-update
// contract as SetPeriod.
func (t *Thread) SetCPUUsage(cpuUsage float64) {
	t.mu.Lock()
	t.cpuUsage = clamp01(cpuUsage)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Period returns the thread's current period.
func (t *Thread) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// CPUUsage returns the thread's current duty-cycle fraction.
func (t *Thread) CPUUsage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpuUsage
}

// Stop clears the active flag, wakes the thread so it observes the change,
// and blocks until its goroutine has actually exited.
func (t *Thread) Stop() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
	t.cond.Broadcast()
	<-t.stopped
}

func (t *Thread) run() {
	defer close(t.stopped)
	for {
		t.mu.Lock()
		if !t.active {
			t.mu.Unlock()
			return
		}
		period := t.period
		cpuUsage := t.cpuUsage
		blockDuration := scaleDuration(period, 1-cpuUsage)
		workDuration := scaleDuration(period, cpuUsage)

		deadline := time.Now().Add(blockDuration)
		t.waitUntilLocked(deadline)
		active := t.active
		changed := t.period != period || t.cpuUsage != cpuUsage
		t.mu.Unlock()
		if !active {
			return
		}
		if changed {
			continue
		}

		workEnd := time.Now().Add(workDuration)
		for time.Now().Before(workEnd) {
			if !t.isActive() {
				return
			}
			lowenergy.Batch()
		}
	}
}

// waitUntilLocked waits on the condition variable until the active flag
// goes false, the period or cpu-usage fraction changes, or deadline
// passes, returning with t.mu held. Callers must hold t.mu on entry.
func (t *Thread) waitUntilLocked(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	period, cpuUsage := t.period, t.cpuUsage
	for t.active && t.period == period && t.cpuUsage == cpuUsage && time.Now().Before(deadline) {
		t.cond.Wait()
	}
}

func (t *Thread) isActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func scaleDuration(d time.Duration, frac float64) time.Duration {
	if frac < 0 {
		frac = 0
	}
	return time.Duration(float64(d) * frac)
}

// Pool owns a collection of BusyThreads, all started and stopped together.
type Pool struct {
	mu      sync.Mutex
	threads []*Thread
}

// NewPool returns a Pool of n threads, each with the given period and
// cpu-usage fraction, not yet started.
func NewPool(n int, period time.Duration, cpuUsage float64) *Pool {
	p := &Pool{threads: make([]*Thread, n)}
	for i := range p.threads {
		p.threads[i] = New(period, cpuUsage)
	}
	return p
}

// Start launches every thread in the pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		t.Start()
	}
}

// Stop stops every thread in the pool and waits for them all to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	threads := append([]*Thread(nil), p.threads...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(threads))
	for _, t := range threads {
		t := t
		go func() {
			defer wg.Done()
			t.Stop()
		}()
	}
	wg.Wait()
}

// SetParameters updates period and cpu-usage on every thread currently in
// the pool, taking effect within one period per Thread's contract.
func (p *Pool) SetParameters(period time.Duration, cpuUsage float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		t.SetPeriod(period)
		t.SetCPUUsage(cpuUsage)
	}
}

// Resize rebuilds the pool to contain n threads, each with the given
// period and cpu-usage fraction: existing threads beyond n are stopped and
// dropped, and new threads are created and started to make up the
// difference. Threads preserved in [0,n) keep running uninterrupted except
// for their live parameter update.
func (p *Pool) Resize(n int, period time.Duration, cpuUsage float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 0 {
		n = 0
	}

	for _, t := range p.threads[min(n, len(p.threads)):] {
		t.Stop()
	}
	if n <= len(p.threads) {
		p.threads = p.threads[:n]
	} else {
		for len(p.threads) < n {
			t := New(period, cpuUsage)
			t.Start()
			p.threads = append(p.threads, t)
		}
	}
	for _, t := range p.threads {
		t.SetPeriod(period)
		t.SetCPUUsage(cpuUsage)
	}
}

// Len returns the number of threads currently in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}
