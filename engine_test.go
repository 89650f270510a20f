package audioperflab

import (
	"testing"
	"time"

	"audioperflab/internal/driver"
	"audioperflab/internal/measurement"
	"audioperflab/internal/partial"
)

func fakeDriverFactory(cfg driver.Config) (DriverHandle, error) {
	return driver.NewFakeDriver(cfg), nil
}

func makeTestPartials(n int) []partial.Partial {
	list := make([]partial.Partial, n)
	for i := range list {
		list[i] = partial.Partial{
			AmpWhenActive: 0.3,
			Amp:           0.3,
			TargetAmp:     0.3,
			AmpSmoothing:  1,
			PhaseInc:      float32(i+1) * 0.01,
		}
	}
	return list
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *driver.FakeDriver) {
	t.Helper()
	e, err := NewEngine(Options{
		Config:     cfg,
		SampleRate: 48000,
		NewDriver:  fakeDriverFactory,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	fd, ok := e.drv.(*driver.FakeDriver)
	if !ok {
		t.Fatalf("driver is %T, want *driver.FakeDriver", e.drv)
	}
	return e, fd
}

func TestEngineStartRenderStop(t *testing.T) {
	cfg := Standard()
	cfg.PreferredBufferSize = 64
	e, fd := newTestEngine(t, cfg)

	partials := makeTestPartials(10)
	e.SetPartials(partials)
	e.SetNumActivePartials(len(partials))

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if !fd.Tick(64, 0) {
		t.Fatal("Tick did not run while engine is started")
	}

	out := make([]measurement.Drive, 4)
	n := e.FetchMeasurements(out)
	if n != 1 {
		t.Fatalf("FetchMeasurements = %d, want 1", n)
	}
	if out[0].NumFrames != 64 {
		t.Errorf("NumFrames = %d, want 64", out[0].NumFrames)
	}
}

func TestEngineNumPartialsReflectsSetPartials(t *testing.T) {
	e, _ := newTestEngine(t, Standard())
	e.SetPartials(makeTestPartials(7))
	if got := e.NumPartials(); got != 7 {
		t.Fatalf("NumPartials() = %d, want 7", got)
	}
}

func TestEngineStatusTracksDriverLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, Standard())
	e.SetPartials(makeTestPartials(1))

	if got := e.Status(); got != driver.StatusStopped {
		t.Fatalf("Status() before Start = %v, want stopped", got)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := e.Status(); got != driver.StatusRunning {
		t.Fatalf("Status() after Start = %v, want running", got)
	}
	e.Stop()
	if got := e.Status(); got != driver.StatusStopped {
		t.Fatalf("Status() after Stop = %v, want stopped", got)
	}
}

func TestEngineCurrentPresetMatchesStandard(t *testing.T) {
	e, _ := newTestEngine(t, Standard())
	if got := e.CurrentPreset(); got != "Standard" {
		t.Fatalf("CurrentPreset() = %q, want Standard", got)
	}

	e.SetMinimumLoad(0.9)
	if got := e.CurrentPreset(); got != "Custom" {
		t.Fatalf("CurrentPreset() after drift = %q, want Custom", got)
	}
}

func TestEngineMeasurementQueueDropsSilentlyWhenFull(t *testing.T) {
	cfg := Standard()
	cfg.PreferredBufferSize = 32
	e, fd := newTestEngine(t, cfg)
	e.SetPartials(makeTestPartials(1))

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	const numTicks = 4 * measurementQueueCapacity
	for i := 0; i < numTicks; i++ {
		fd.Tick(32, float64(i)*0.001)
	}

	out := make([]measurement.Drive, numTicks)
	n := e.FetchMeasurements(out)
	// The ring never blocks and never grows past a handful of buffer
	// durations' worth of entries, however many ticks were posted.
	if n <= 0 || n >= numTicks {
		t.Fatalf("FetchMeasurements drained %d of %d ticks, want a bounded amount strictly less than the total", n, numTicks)
	}
}

func TestEngineInputPeakLevelIsCaptured(t *testing.T) {
	cfg := Standard()
	cfg.InputEnabled = true
	cfg.PreferredBufferSize = 4
	e, fd := newTestEngine(t, cfg)
	e.SetPartials(makeTestPartials(1))

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()
	fd.SetIsInputEnabled(true)

	input := []float32{0.1, -0.9, 0.2, 0.05, 0, 0, 0, 0}
	fd.TickWithInput(4, 0, input)

	out := make([]measurement.Drive, 1)
	if n := e.FetchMeasurements(out); n != 1 {
		t.Fatalf("FetchMeasurements = %d, want 1", n)
	}
	if got := out[0].InputPeakLevel; got < 0.89 || got > 0.91 {
		t.Fatalf("InputPeakLevel = %v, want ~0.9", got)
	}
}

func TestEngineSetBusyThreadsResizesLivePool(t *testing.T) {
	cfg := Optimal()
	cfg.NumBusyThreads = 1
	cfg.BusyThreadPeriod = 10 * time.Millisecond
	e, _ := newTestEngine(t, cfg)
	e.SetPartials(makeTestPartials(1))

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	e.SetBusyThreads(3, 10*time.Millisecond, 0.2)
	if got := e.busy.Len(); got != 3 {
		t.Fatalf("busy pool Len() = %d, want 3", got)
	}
}
