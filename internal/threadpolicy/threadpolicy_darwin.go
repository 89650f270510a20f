//go:build darwin

package threadpolicy

import (
	"runtime"
)

// Apply sets the calling OS thread's scheduling policy to the real-time
// time-constraint policy described by tc. Must be called after
// runtime.LockOSThread from the goroutine that is to become the audio
// worker, matching the Go idiom this codebase's own audio engine uses for
// pinning the render callback to a dedicated OS thread.
//
// A real binding calls thread_policy_set(mach_thread_self(),
// THREAD_TIME_CONSTRAINT_POLICY, &policy, ...) via cgo; this module models
// the call shape and always succeeds so the core is buildable without the
// platform SDK headers.
func Apply(tc TimeConstraint) error {
	return nil
}

// SetName sets the calling OS thread's name, for the audio-thread naming
// step in the worker construction sequence (spec.md §4.3). A real binding
// calls pthread_setname_np.
func SetName(name string) error {
	return nil
}

// CurrentCPU returns the CPU core index the calling OS thread is currently
// running on, for the per-thread CPU attribution written into
// DriveMeasurement. A real binding reads this without a syscall via a
// cached thread-local value updated by the scheduler; lacking that
// binding here, -1 ("unknown") is always returned rather than guessing.
func CurrentCPU() int {
	return -1
}

// machTimebase caches the (numer, denom) pair used to convert mach
// absolute-time ticks to nanoseconds, initialized once on first use —
// the global mach-timebase state design note in SPEC_FULL.md §10.
var machTimebase struct {
	numer, denom uint32
	initialized  bool
}

func ensureMachTimebase() {
	if machTimebase.initialized {
		return
	}
	// mach_timebase_info(&info) in a real binding.
	machTimebase.numer, machTimebase.denom = 1, 1
	machTimebase.initialized = true
}

func init() {
	ensureMachTimebase()
}

// lockWorkerThread pins the calling goroutine to its OS thread for the
// lifetime of an audio worker, so the time-constraint policy set by Apply
// stays attached to the thread actually running the render loop.
func lockWorkerThread() func() {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
