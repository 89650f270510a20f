package host

import (
	"testing"
	"time"

	"audioperflab/internal/driver"
	"audioperflab/internal/partial"
	"audioperflab/internal/sinebank"
)

// testCallbacks plays the role the embedding engine plays in production:
// it owns the same *sinebank.Bank the Host dispatches work over, and is
// responsible for Prepare/MixTo around the Host's own scheduling.
type testCallbacks struct {
	bank      *sinebank.Bank
	numActive int

	startedCount int
	endedCount   int
}

func (c *testCallbacks) RenderStarted(io *driver.IOBuffer, numFrames int) {
	c.startedCount++
	c.bank.Prepare(c.numActive, numFrames)
}

func (c *testCallbacks) RenderEnded(io *driver.IOBuffer, hostTime float64, numFrames int) {
	c.endedCount++
	for i := range io.Output {
		io.Output[i] = 0
	}
	left := make([]float32, numFrames)
	right := make([]float32, numFrames)
	c.bank.MixTo(left, right, numFrames)
	for i := 0; i < numFrames; i++ {
		io.Output[2*i] = left[i]
		io.Output[2*i+1] = right[i]
	}
}

func makeActivePartial(phaseInc float32) partial.Partial {
	return partial.Partial{
		AmpWhenActive: 0.5,
		Amp:           0.5,
		TargetAmp:     0.5,
		AmpSmoothing:  1,
		Pan:           0,
		PhaseInc:      phaseInc,
	}
}

func TestRenderDispatchesAcrossWorkersAndProducesOutput(t *testing.T) {
	bank := sinebank.New()
	partials := make([]partial.Partial, 20)
	for i := range partials {
		partials[i] = makeActivePartial(float32(i+1) * 0.01)
	}
	bank.SetPartials(partials)

	cb := &testCallbacks{bank: bank, numActive: len(partials)}
	h := New(bank, cb, Config{
		NumProcessingThreads:  3,
		PreferredBufferSize:   128,
		SampleRate:            48000,
		ProcessInDriverThread: true,
	})
	h.Start()
	defer h.Stop()

	numFrames := 128
	io := &driver.IOBuffer{Output: make([]float32, numFrames*2)}
	if err := h.Render(0, numFrames, io); err != nil {
		t.Fatalf("Render: %v", err)
	}

	if cb.startedCount != 1 || cb.endedCount != 1 {
		t.Fatalf("startedCount=%d endedCount=%d, want 1,1", cb.startedCount, cb.endedCount)
	}

	silent := true
	for _, v := range io.Output {
		if v != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Fatal("expected non-silent output with active partials")
	}
}

func TestRenderRunsRepeatedlyAfterStart(t *testing.T) {
	bank := sinebank.New()
	bank.SetPartials([]partial.Partial{makeActivePartial(0.02)})

	cb := &testCallbacks{bank: bank, numActive: 1}
	h := New(bank, cb, Config{
		NumProcessingThreads: 2,
		PreferredBufferSize:  64,
		SampleRate:           48000,
	})
	h.Start()
	defer h.Stop()

	io := &driver.IOBuffer{Output: make([]float32, 64*2)}
	for i := 0; i < 10; i++ {
		if err := h.Render(float64(i), 64, io); err != nil {
			t.Fatalf("Render iteration %d: %v", i, err)
		}
	}
	if cb.startedCount != 10 || cb.endedCount != 10 {
		t.Fatalf("startedCount=%d endedCount=%d, want 10,10", cb.startedCount, cb.endedCount)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	bank := sinebank.New()
	cb := &testCallbacks{bank: bank}
	h := New(bank, cb, Config{NumProcessingThreads: 2, PreferredBufferSize: 64, SampleRate: 48000})

	h.Start()
	h.Start()
	h.Stop()
	h.Stop()
}

// S4-adjacent: a thread-setup mutator restarts a running pool transparently
// and Render keeps working afterward.
func TestSetNumProcessingThreadsRestartsRunningPool(t *testing.T) {
	bank := sinebank.New()
	bank.SetPartials([]partial.Partial{makeActivePartial(0.02)})
	cb := &testCallbacks{bank: bank, numActive: 1}
	h := New(bank, cb, Config{NumProcessingThreads: 2, PreferredBufferSize: 64, SampleRate: 48000})
	h.Start()
	defer h.Stop()

	h.SetNumProcessingThreads(4)
	if got := h.NumProcessingThreads(); got != 4 {
		t.Fatalf("NumProcessingThreads() = %d, want 4", got)
	}

	io := &driver.IOBuffer{Output: make([]float32, 64*2)}
	if err := h.Render(0, 64, io); err != nil {
		t.Fatalf("Render after resize: %v", err)
	}
}

// S5: minimumLoad=0.5, numFrames=128, sampleRate=48000 => buffer duration
// 2.667ms; the callback must not return before ~1.33ms have elapsed.
func TestEnsureMinimumLoadEnforcesFloor(t *testing.T) {
	bank := sinebank.New()
	cb := &testCallbacks{bank: bank}
	h := New(bank, cb, Config{
		NumProcessingThreads:  1,
		PreferredBufferSize:   128,
		SampleRate:            48000,
		ProcessInDriverThread: true,
		MinimumLoad:           0.5,
	})
	h.Start()
	defer h.Stop()

	numFrames := 128
	io := &driver.IOBuffer{Output: make([]float32, numFrames*2)}

	start := time.Now()
	if err := h.Render(0, numFrames, io); err != nil {
		t.Fatalf("Render: %v", err)
	}
	elapsed := time.Since(start)

	const wantFloor = 1000 * time.Microsecond // conservative lower bound under ~1.33ms target
	if elapsed < wantFloor {
		t.Fatalf("Render returned after %v, want at least %v", elapsed, wantFloor)
	}
}

func TestZeroMinimumLoadDoesNotBlock(t *testing.T) {
	bank := sinebank.New()
	cb := &testCallbacks{bank: bank}
	h := New(bank, cb, Config{
		NumProcessingThreads:  1,
		PreferredBufferSize:   128,
		SampleRate:            48000,
		ProcessInDriverThread: true,
		MinimumLoad:           0,
	})
	h.Start()
	defer h.Stop()

	numFrames := 128
	io := &driver.IOBuffer{Output: make([]float32, numFrames*2)}

	start := time.Now()
	if err := h.Render(0, numFrames, io); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("Render took %v with minimumLoad=0, want fast return", elapsed)
	}
}

func TestCPUAttributionDefaultsToUnknown(t *testing.T) {
	bank := sinebank.New()
	cb := &testCallbacks{bank: bank}
	h := New(bank, cb, Config{NumProcessingThreads: 2, PreferredBufferSize: 64, SampleRate: 48000})

	cpu, processed := h.CPUAttribution()
	for i, v := range cpu {
		if v != -1 {
			t.Errorf("cpu[%d] = %d before any render, want -1", i, v)
		}
	}
	for i, v := range processed {
		if v != -1 {
			t.Errorf("activeProcessed[%d] = %d before any render, want -1", i, v)
		}
	}
}
