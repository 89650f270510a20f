//go:build cgo

package driver

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver is the concrete desktop backend for the Driver contract,
// adapted from this codebase's audio engine: PortAudio's own callback
// thread is the render thread, Start/Stop sequence stream lifecycle around
// the shared renderGate exactly as the original engine sequenced
// Pa_StartStream/Pa_StopStream around its capture/playback goroutines.
type PortAudioDriver struct {
	*Driver

	channels int

	mu           sync.Mutex
	stream       *portaudio.Stream
	inputDevice  *portaudio.DeviceInfo
	outputDevice *portaudio.DeviceInfo
	startedAt    time.Time
}

// NewPortAudioDriver initializes PortAudio and opens (but does not start) a
// duplex stream for the given config. channels is 2 for stereo. On any
// construction error the returned driver is left in StatusInvalid and its
// Start is a permanent no-op, per the error-handling design's class-2
// (device-level failure) contract.
func NewPortAudioDriver(cfg Config, channels int) *PortAudioDriver {
	d := &PortAudioDriver{
		Driver:   newDriverCore(cfg),
		channels: channels,
	}

	if err := portaudio.Initialize(); err != nil {
		d.markInvalid("initialize", err)
		return d
	}

	if err := d.openStream(cfg); err != nil {
		d.markInvalid("open stream", err)
		return d
	}

	return d
}

func (d *PortAudioDriver) markInvalid(step string, err error) {
	logInvalid(step, err)
	d.status.Store(int32(StatusInvalid))
}

func (d *PortAudioDriver) openStream(cfg Config) error {
	inDev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("default input device: %w", err)
	}
	outDev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("default output device: %w", err)
	}
	d.inputDevice = inDev
	d.outputDevice = outDev

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: d.channels,
			Latency:  inDev.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: d.channels,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      d.SampleRate(),
		FramesPerBuffer: int(d.bufferSize.Load()),
	}
	if !cfg.InputEnabled {
		params.Input = portaudio.StreamDeviceParameters{}
	}

	stream, err := portaudio.OpenStream(params, d.paCallback)
	if err != nil {
		return err
	}
	d.stream = stream
	return nil
}

// paCallback is invoked by PortAudio's own real-time thread once per
// buffer with interleaved stereo float32 slices — exactly the IOBuffer
// shape the Driver contract specifies.
func (d *PortAudioDriver) paCallback(in, out []float32) {
	hostTime := time.Since(d.startedAt).Seconds()
	numFrames := len(out) / d.channels
	io := &IOBuffer{Output: out}
	if d.inputEnabled.Load() {
		io.Input = in
	}
	d.renderOnce(hostTime, numFrames, io)
}

// Start starts the underlying PortAudio stream and opens the render gate.
// A no-op once the driver has transitioned to StatusInvalid.
func (d *PortAudioDriver) Start() error {
	if d.Status() == StatusInvalid {
		return ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.stream.Start(); err != nil {
		d.markInvalid("start stream", err)
		return err
	}
	d.startedAt = time.Now()
	d.status.Store(int32(StatusRunning))
	d.gate.open()
	return nil
}

// Stop closes the render gate — blocking until any in-flight callback
// returns — then stops the PortAudio stream, leaving it open so Start can
// restart it (Close releases it). Sequencing matters here exactly as it
// does in the engine this is adapted from: the gate must close before the
// stream stops. The gate stays closed; Start reopens it.
func (d *PortAudioDriver) Stop() {
	if d.Status() != StatusRunning {
		return
	}
	d.gate.close()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Stop()
	}
	d.status.Store(int32(StatusStopped))
}

// SetIsInputEnabled tears down and reopens the duplex stream with/without
// an input device. May block for the time it takes PortAudio to
// stop/close/reopen a stream — documented by the contract as up to ~500ms.
func (d *PortAudioDriver) SetIsInputEnabled(enabled bool) error {
	if d.Status() == StatusInvalid {
		return ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	wasRunning := d.Status() == StatusRunning
	if wasRunning {
		d.gate.close()
		if d.stream != nil {
			d.stream.Stop()
		}
	}
	if d.stream != nil {
		d.stream.Close()
	}

	d.inputEnabled.Store(enabled)
	if err := d.openStream(Config{
		Render:              d.render,
		SampleRate:          d.SampleRate(),
		PreferredBufferSize: int(d.bufferSize.Load()),
		InputEnabled:        enabled,
	}); err != nil {
		d.markInvalid("reopen stream for input toggle", err)
		return err
	}

	if wasRunning {
		if err := d.stream.Start(); err != nil {
			d.markInvalid("restart after input toggle", err)
			return err
		}
		d.gate.open()
	}
	return nil
}

// Close releases PortAudio resources. Callers should Stop before Close.
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		_ = d.stream.Close()
	}
	return portaudio.Terminate()
}

// logInvalid logs a construction/teardown failure. Never propagated to the
// real-time thread — device-level failures surface only through Status().
func logInvalid(step string, err error) {
	if err != nil {
		log.Printf("[driver] %s failed: %v", step, err)
	}
}
