// Package partial defines a single sinusoidal voice and the generic linear
// ramp used to make control-rate changes (playback volume, amplitude)
// click-free at audio rate.
//
// The one-pole smoothing coefficient and attack/release-style amplitude
// convergence are adapted from this codebase's automatic-gain-control
// package, which ramped a gain multiplier toward a target RMS with the
// same "current += (target-current)*coeff" update; here the target is a
// partial's amplitude rather than a gain, and the coefficient is derived
// from a smoothing time constant rather than measured loudness.
package partial

import "math"

// SilenceThreshold is the amplitude below which both the current and
// target amplitude of a partial are treated as silent, letting processPartial
// skip the partial's inner loop entirely.
const SilenceThreshold = 1e-5

// Partial is one harmonic voice of a band-limited tone.
//
// Amp, Phase and TargetAmp are mutated only by whichever worker owns this
// partial for the current buffer; every other field is set by the driver
// thread between buffers while no worker is processing.
type Partial struct {
	AmpWhenActive float32 // nominal amplitude while this partial is active
	TargetAmp     float32 // 0 when inactive, else AmpWhenActive
	Amp           float32 // smoothed current amplitude
	AmpSmoothing  float32 // one-pole coefficient, derived from SmoothingCoeff
	Pan           float32 // -1..+1
	PhaseInc      float32 // radians/sample
	Phase         float32 // radians, 0..2*pi
}

// SmoothingCoeff returns the one-pole coefficient for a smoothing time
// constant tau (seconds) at sample rate fs: 1 - exp(-1/max(tau*fs, 1e-6)).
func SmoothingCoeff(tau, fs float64) float32 {
	denom := tau * fs
	if denom < 1e-6 {
		denom = 1e-6
	}
	return float32(1 - math.Exp(-1/denom))
}

// RampedValue is a linear ramp toward Target, reaching it after exactly
// TicksToCompletion calls to Tick. Used by the volume fader; T is float32
// or float64.
type RampedValue[T float32 | float64] struct {
	current           T
	target            T
	increment         T
	ticksToCompletion int
}

// NewRampedValue returns a RampedValue already at rest at initial.
func NewRampedValue[T float32 | float64](initial T) RampedValue[T] {
	return RampedValue[T]{current: initial, target: initial}
}

// Current returns the ramp's current value.
func (r *RampedValue[T]) Current() T { return r.current }

// Target returns the ramp's destination value.
func (r *RampedValue[T]) Target() T { return r.target }

// IsRamping reports whether the ramp has not yet reached its target.
func (r *RampedValue[T]) IsRamping() bool { return r.ticksToCompletion > 0 }

// RampTo starts a linear ramp from the current value to target over
// numTicks calls to Tick. numTicks <= 0 jumps immediately (equivalent to
// SetValue).
func (r *RampedValue[T]) RampTo(target T, numTicks int) {
	if numTicks <= 0 {
		r.SetValue(target)
		return
	}
	r.target = target
	r.ticksToCompletion = numTicks
	r.increment = (target - r.current) / T(numTicks)
}

// SetValue jumps current and target to v immediately, cancelling any
// in-flight ramp.
func (r *RampedValue[T]) SetValue(v T) {
	r.current = v
	r.target = v
	r.increment = 0
	r.ticksToCompletion = 0
}

// Tick advances the ramp by one sample and returns the new current value.
// When the last tick completes, current is snapped exactly to target so
// floating-point drift from repeated additions can never leave it short.
func (r *RampedValue[T]) Tick() T {
	if r.ticksToCompletion <= 0 {
		return r.current
	}
	r.ticksToCompletion--
	if r.ticksToCompletion == 0 {
		r.current = r.target
	} else {
		r.current += r.increment
	}
	return r.current
}
