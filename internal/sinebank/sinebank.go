// Package sinebank implements the work-stealing parallel sine synthesis
// engine: a fixed list of partials, claimed in fixed-size chunks by an
// atomic counter and mixed down by the driver thread once every worker has
// finished.
package sinebank

import (
	"fmt"
	"math"
	"sync/atomic"

	"audioperflab/internal/partial"
)

// ChunkSize is the number of partials claimed per atomic fetch-and-add.
// Fixed at the order of magnitude SPEC_FULL.md suggests; amortizes the
// atomic traffic while still giving workers that are scheduled on a slow
// core a bounded minimum amount of work per claim.
const ChunkSize = 256

// MaxNumFrames is the largest buffer size any scratch buffer or Process
// call may be asked to handle. Larger requests are a programmer error.
const MaxNumFrames = 2048

// Bank holds the partial list (sorted ascending by PhaseInc so active work
// sits at the front) and one stereo scratch buffer per processing thread.
//
// SetNumThreads is only safe to call while no audio is active; Prepare and
// Process are the real-time entry points and never allocate.
type Bank struct {
	partials []partial.Partial

	scratch []scratchBuf // one per thread

	numActivePartials atomic.Int32
	numTakenPartials  atomic.Int32
}

type scratchBuf struct {
	left  [MaxNumFrames]float32
	right [MaxNumFrames]float32
}

// New returns an empty Bank with no partials and no scratch buffers.
func New() *Bank {
	return &Bank{}
}

// SetNumThreads resizes the per-thread scratch buffer pool. Precondition:
// callable only when no audio is active (no Prepare/Process in flight).
func (b *Bank) SetNumThreads(n int) {
	if n < 0 {
		panic("sinebank: SetNumThreads called with negative n")
	}
	b.scratch = make([]scratchBuf, n)
}

// SetPartials replaces the partial list. list must already be sorted
// ascending by PhaseInc; Bank takes ownership of the slice.
func (b *Bank) SetPartials(list []partial.Partial) {
	b.partials = list
}

// NumPartials returns the total number of partials currently loaded.
func (b *Bank) NumPartials() int { return len(b.partials) }

// Prepare is called by the driver thread at the start of every buffer. It
// sets the active-partial count, zeroes every thread's scratch buffer up to
// numFrames, and resets the claim counter.
func (b *Bank) Prepare(numActive, numFrames int) {
	if numFrames > MaxNumFrames {
		panic(fmt.Sprintf("sinebank: numFrames %d exceeds MaxNumFrames %d", numFrames, MaxNumFrames))
	}
	b.numActivePartials.Store(int32(numActive))
	for i := range b.scratch {
		s := &b.scratch[i]
		for f := 0; f < numFrames; f++ {
			s.left[f] = 0
			s.right[f] = 0
		}
	}
	b.numTakenPartials.Store(0)
}

// Process claims and renders chunks of partials on behalf of thread
// threadIdx, until the partial list is exhausted. Returns the number of
// active partials this thread processed (visualization only).
//
// threadIdx must be in [0, number of scratch buffers); numFrames must be
// <= MaxNumFrames. Both are programmer-error preconditions: violating
// either aborts the process rather than returning an error, matching the
// "fatal invariant violation" error class.
func (b *Bank) Process(threadIdx, numFrames int) int {
	if threadIdx < 0 || threadIdx >= len(b.scratch) {
		panic(fmt.Sprintf("sinebank: threadIdx %d out of range [0,%d)", threadIdx, len(b.scratch)))
	}
	if numFrames > MaxNumFrames {
		panic(fmt.Sprintf("sinebank: numFrames %d exceeds MaxNumFrames %d", numFrames, MaxNumFrames))
	}

	numActive := int(b.numActivePartials.Load())
	scratch := &b.scratch[threadIdx]

	activeProcessed := 0
	total := len(b.partials)

	for {
		start := int(b.numTakenPartials.Add(ChunkSize)) - ChunkSize
		if start >= total {
			break
		}
		end := start + ChunkSize
		if end > total {
			end = total
		}
		for i := start; i < end; i++ {
			p := &b.partials[i]
			if i < numActive {
				p.TargetAmp = p.AmpWhenActive
				activeProcessed++
			} else {
				p.TargetAmp = 0
			}
			processPartial(p, numFrames, scratch.left[:numFrames], scratch.right[:numFrames])
		}
	}

	return activeProcessed
}

// MixTo sums every thread's scratch buffer into outLeft/outRight,
// accumulating rather than overwriting — the caller must have zeroed the
// output buffer first. Called by the driver thread only after every worker
// has signalled completion for this buffer.
func (b *Bank) MixTo(outLeft, outRight []float32, numFrames int) {
	for t := range b.scratch {
		s := &b.scratch[t]
		for i := 0; i < numFrames; i++ {
			outLeft[i] += s.left[i]
			outRight[i] += s.right[i]
		}
	}
}

// equalPowerPan returns the (left, right) gains for pan in [-1, +1] under
// the equal-power law, which dips 3 dB at center.
func equalPowerPan(pan float32) (float32, float32) {
	gainL := float32(math.Sin(float64(math.Pi / 4 * (1 - pan))))
	gainR := float32(math.Sin(float64(math.Pi / 4 * (1 + pan))))
	return gainL, gainR
}

const twoPi = 2 * math.Pi

// processPartial renders numFrames samples of p into left/right, advancing
// its phase and smoothing its amplitude toward TargetAmp. Skips entirely
// (without advancing phase) when both the current and target amplitude are
// below partial.SilenceThreshold.
func processPartial(p *partial.Partial, numFrames int, left, right []float32) {
	if absF32(p.Amp) < partial.SilenceThreshold && absF32(p.TargetAmp) < partial.SilenceThreshold {
		return
	}

	gainL, gainR := equalPowerPan(p.Pan)

	amp := p.Amp
	phase := p.Phase
	target := p.TargetAmp
	inc := p.PhaseInc
	coeff := p.AmpSmoothing

	for i := 0; i < numFrames; i++ {
		sample := float32(math.Sin(float64(phase))) * amp
		left[i] += sample * gainL
		right[i] += sample * gainR

		amp += (target - amp) * coeff

		phase += inc
		if phase >= twoPi {
			phase -= twoPi
		}
	}

	p.Amp = amp
	p.Phase = phase
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
