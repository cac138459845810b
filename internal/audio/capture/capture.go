package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/convert"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("capture device closed")

// stopTimeout bounds how long Close waits for the backend to confirm the
// callback has stopped.
const stopTimeout = 2 * time.Second

// MalgoCapture opens the default capture device at its native rate and pushes
// f32 chunks into an Appender from the device callback.
type MalgoCapture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format config.Format

	sink     Appender
	scratch  []float32
	stopping atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewMalgoCapture initialises the device without starting it.
func NewMalgoCapture(channels int) (*MalgoCapture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("backend", "malgo").Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	mc := &MalgoCapture{ctx: ctx}

	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatF32
	capCfg.Capture.Channels = uint32(channels)
	capCfg.SampleRate = 0 // native rate

	// alsa specific settings for linux
	if runtime.GOOS == "linux" {
		capCfg.Alsa.NoMMap = 1
	}

	device, err := malgo.InitDevice(ctx.Context, capCfg, malgo.DeviceCallbacks{Data: mc.onCapture})
	if err != nil {
		mc.releaseContext()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	mc.device = device
	mc.format = config.Format{SampleRate: int(device.SampleRate()), Channels: channels, BitDepth: 32}

	log.Info().Str("format", mc.format.String()).Msg("Capture device opened")
	return mc, nil
}

func (mc *MalgoCapture) onCapture(_, input []byte, frameCount uint32) {
	if mc.stopping.Load() {
		return
	}
	sink := mc.sink
	if sink == nil {
		return
	}
	n := int(frameCount) * mc.format.Channels
	if cap(mc.scratch) < n {
		mc.scratch = make([]float32, n)
	}
	samples := mc.scratch[:convert.BytesToFloat32Into(mc.scratch[:n], input)]
	sink.Append(samples)
}

// Format is the device's native format.
func (mc *MalgoCapture) Format() config.Format {
	return mc.format
}

// Start begins delivering captured chunks to sink.
func (mc *MalgoCapture) Start(sink Appender) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return ErrClosed
	}
	mc.sink = sink
	if err := mc.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	log.Info().Msg("Capture device started")
	return nil
}

// Close stops the callback, waits for the backend to confirm and then
// releases the device.
func (mc *MalgoCapture) Close() error {
	mc.stopping.Store(true)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return nil
	}
	mc.closed = true

	if mc.device != nil {
		if err := mc.device.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop capture device")
		}
		waitStopped(mc.device)
		mc.device.Uninit()
	}
	mc.releaseContext()
	log.Info().Msg("Capture device closed")
	return nil
}

func (mc *MalgoCapture) releaseContext() {
	if mc.ctx != nil {
		_ = mc.ctx.Uninit()
		mc.ctx.Free()
		mc.ctx = nil
	}
}

func waitStopped(device *malgo.Device) {
	deadline := time.Now().Add(stopTimeout)
	for device.IsStarted() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}
