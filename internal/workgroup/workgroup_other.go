//go:build !darwin

package workgroup

// Discover returns a no-op Group on platforms without a native
// workgroup/work-interval primitive. The engine can still be configured
// with isWorkIntervalOn=true on these platforms; it simply has no effect,
// matching the spec's framing of the workgroup abstraction as an optional
// throttling mitigation rather than a correctness requirement.
func Discover() Group { return NoOp() }
