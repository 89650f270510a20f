// Package lowenergy models the architecture-specific low-energy-wait
// instruction (ARM WFE, x86 PAUSE) that ensureMinimumLoad and BusyThread
// use to burn a small amount of wall time without yielding the OS thread
// back to the scheduler — unlike runtime.Gosched, which surrenders the
// thread and would defeat the point of staying resident on a fast core.
//
// Go has no portable binding for the underlying instruction, so this
// package approximates it with a tight, non-yielding loop over a shared
// counter, kept as an atomic so the race detector and the compiler's
// dead-code elimination both leave it alone.
package lowenergy

import "sync/atomic"

// BatchSize is the number of low-energy-wait calls issued back to back
// before the caller re-checks its deadline or active flag, amortizing the
// per-call overhead the way the real instruction is amortized in batches
// of roughly sixteen.
const BatchSize = 16

var fence atomic.Uint64

// Batch issues one batch of low-energy-wait instructions.
func Batch() {
	for i := 0; i < BatchSize; i++ {
		fence.Add(1)
	}
}
