package audioperflab

import "time"

// EngineConfig is the full set of tunables an Engine can be constructed or
// reconfigured with.
type EngineConfig struct {
	PreferredBufferSize   int
	NumProcessingThreads  int
	ProcessInDriverThread bool
	WorkgroupEnabled      bool
	MinimumLoad           float64

	NumBusyThreads   int
	BusyThreadPeriod time.Duration
	BusyThreadCPU    float64

	InputEnabled bool
}

// Standard returns the conservative default configuration: the driver
// thread participates inline, workers join the workgroup, and no busy
// threads run. Favors correctness and battery life over maximum
// throttling resistance.
func Standard() EngineConfig {
	return EngineConfig{
		PreferredBufferSize:   256,
		NumProcessingThreads:  2,
		ProcessInDriverThread: true,
		WorkgroupEnabled:      true,
		MinimumLoad:           0,
		NumBusyThreads:        0,
		BusyThreadPeriod:      35 * time.Millisecond,
		BusyThreadCPU:         0.5,
		InputEnabled:          false,
	}
}

// Optimal returns the configuration tuned to resist performance-controller
// throttling: the driver thread stays free of synthesis work, workers
// don't join the workgroup, and a single busy thread runs.
func Optimal() EngineConfig {
	return EngineConfig{
		PreferredBufferSize:   128,
		NumProcessingThreads:  2,
		ProcessInDriverThread: false,
		WorkgroupEnabled:      false,
		MinimumLoad:           0,
		NumBusyThreads:        1,
		BusyThreadPeriod:      35 * time.Millisecond,
		BusyThreadCPU:         0.5,
		InputEnabled:          false,
	}
}

// PresetName reports which named preset cfg matches by full equality, or
// "Custom" if it matches neither. There is no persistence layer behind
// this — presets are compared by value, not loaded from disk.
func PresetName(cfg EngineConfig) string {
	switch cfg {
	case Standard():
		return "Standard"
	case Optimal():
		return "Optimal"
	default:
		return "Custom"
	}
}
