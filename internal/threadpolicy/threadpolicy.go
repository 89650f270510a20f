// Package threadpolicy wraps the real-time thread-policy syscalls used by
// audio worker threads: setting a time-constraint scheduling policy at
// construction, naming the thread, and reading back which CPU core it is
// currently running on (for the visualization-only CPU attribution field
// in DriveMeasurement).
//
// This is a platform-specific leaf, built for Darwin with the real
// syscalls and stubbed to safe no-ops everywhere else, matching
// SPEC_FULL.md's framing of thread-policy as a platform leaf with no
// portability requirement (a spec Non-goal).
package threadpolicy

import "time"

// TimeConstraint mirrors the real-time scheduling parameters spec.md §4.3
// requires for every worker: period equal to the nominal buffer duration,
// a fixed computation quantum, and a constraint equal to the period,
// marked preemptible so the scheduler can still run higher-priority work.
type TimeConstraint struct {
	Period      time.Duration
	Quantum     time.Duration
	Constraint  time.Duration
	Preemptible bool
}

// DefaultQuantum is the fixed computation quantum spec.md §4.3 specifies.
const DefaultQuantum = 500 * time.Microsecond

// NewTimeConstraint returns the standard worker time-constraint policy for
// a buffer of the given nominal duration.
func NewTimeConstraint(nominalBufferDuration time.Duration) TimeConstraint {
	return TimeConstraint{
		Period:      nominalBufferDuration,
		Quantum:     DefaultQuantum,
		Constraint:  nominalBufferDuration,
		Preemptible: true,
	}
}

// Pin, on Darwin, locks the calling goroutine to its current OS thread for
// the lifetime of an audio worker, so the policy set by Apply stays
// attached to the thread actually running the render loop; elsewhere it
// does not lock. Either way it returns a restorer to call once the worker
// exits.
func Pin() func() {
	return lockWorkerThread()
}
