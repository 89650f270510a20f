// Package measurement defines the per-buffer DriveMeasurement record
// produced in the audio callback and drained by the UI at display rate,
// and the peak-level helper used to fill it in.
//
// The DriveMeasurement wire layout (SPEC_FULL.md §7) is implemented as a
// plain struct of fixed-size arrays — no reflection, no marshalling — so a
// DriveMeasurement can be copied by value across the SPSC ring in
// internal/ringbuffer without allocating.
package measurement

// MaxNumThreads is the hard upper bound on numProcessingThreads plus the
// optional driver-thread participant.
const MaxNumThreads = 8

// Drive is a single buffer's worth of scheduling and load telemetry.
type Drive struct {
	HostTime   float64 // buffer presentation time, seconds
	Duration   float64 // wallclock seconds spent in the render callback
	NumFrames  int32

	// CPUNumbers holds the CPU core index each thread was observed running
	// on at the end of its work for this buffer; -1 for unused slots.
	CPUNumbers [MaxNumThreads]int32

	// NumActivePartialsProcessed holds, per thread, how many active
	// partials it processed this buffer; -1 for unused slots.
	NumActivePartialsProcessed [MaxNumThreads]int32

	InputPeakLevel float32
}

// NewDrive returns a Drive with every thread slot marked unused (-1), ready
// to be filled in by the scheduler as threads report in.
func NewDrive() Drive {
	var d Drive
	for i := range d.CPUNumbers {
		d.CPUNumbers[i] = -1
		d.NumActivePartialsProcessed[i] = -1
	}
	return d
}

// PeakLevel returns the maximum absolute sample value in buf. Used to fill
// InputPeakLevel from the input side of the I/O buffer; adapted from this
// codebase's energy-detector package, which computed RMS for the same
// buffers — peak, not RMS, is what the wire record specifies.
func PeakLevel(buf []float32) float32 {
	var peak float32
	for _, s := range buf {
		a := s
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}
