package playback

import (
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

const stopTimeout = 2 * time.Second

// MalgoPlayback opens the default playback device at its native rate and
// fills every render callback from a Reader.
type MalgoPlayback struct {
	device *malgo.Device
	ctx    *malgo.AllocatedContext
	format config.Format

	src      Reader
	scratch  []float32
	stopping atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewMalgoPlayback initialises the device without starting it.
func NewMalgoPlayback(channels int) (*MalgoPlayback, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("backend", "malgo").Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	mp := &MalgoPlayback{ctx: ctx}

	playCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playCfg.Playback.Format = malgo.FormatF32
	playCfg.Playback.Channels = uint32(channels)
	playCfg.SampleRate = 0 // native rate
	if runtime.GOOS == "linux" {
		playCfg.Alsa.NoMMap = 1
	}

	playDev, err := malgo.InitDevice(ctx.Context, playCfg, malgo.DeviceCallbacks{Data: mp.onPlay})
	if err != nil {
		mp.releaseContext()
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}
	mp.device = playDev
	mp.format = config.Format{SampleRate: int(playDev.SampleRate()), Channels: channels, BitDepth: 32}

	log.Info().Str("format", mp.format.String()).Msg("Playback device opened")
	return mp, nil
}

func (mp *MalgoPlayback) onPlay(pOutputSamples, _ []byte, frameCount uint32) {
	src := mp.src
	if mp.stopping.Load() || src == nil {
		clear(pOutputSamples)
		return
	}
	n := int(frameCount) * mp.format.Channels
	if cap(mp.scratch) < n {
		mp.scratch = make([]float32, n)
	}
	samples := mp.scratch[:n]
	src.Read(samples)
	written := convert.Float32ToBytesInto(pOutputSamples, samples)
	clear(pOutputSamples[written*4:])
}

// Format is the device's native format.
func (mp *MalgoPlayback) Format() config.Format {
	return mp.format
}

// Start begins rendering from src.
func (mp *MalgoPlayback) Start(src Reader) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return ErrClosed
	}
	mp.src = src
	if err := mp.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	log.Info().Msg("Playback device started")
	return nil
}

// Close stops the callback, waits for the backend to confirm and then
// releases the device.
func (mp *MalgoPlayback) Close() error {
	mp.stopping.Store(true)

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return nil
	}
	mp.closed = true

	if mp.device != nil {
		if err := mp.device.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop playback device")
		}
		deadline := time.Now().Add(stopTimeout)
		for mp.device.IsStarted() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		mp.device.Uninit()
	}
	mp.releaseContext()
	log.Info().Msg("Playback device closed")
	return nil
}

func (mp *MalgoPlayback) releaseContext() {
	if mp.ctx != nil {
		_ = mp.ctx.Uninit()
		mp.ctx.Free()
		mp.ctx = nil
	}
}
