package config

import (
	"errors"
	"fmt"
	"time"

	"p2p-voice/internal/audio/resample"
)

type AudioConfigType string

func (ac AudioConfigType) String() string {
	return string(ac)
}

const (
	SampleRateOpus   = 48000 // for opus better to use 48000
	FrameSamplesOpus = 960   // samples 20 ms at 48kHz for opus
	ChannelsOpus     = 1

	SampleRatePCM   = 8000
	FrameSamplesPCM = 320 // samples 40 ms at 8kHz
	ChannelsPCM     = 1

	DefaultCaptureCapacity  = 100000 // samples
	DefaultPlaybackCapacity = 100000 // samples per peer
	DefaultPollInterval     = 10 * time.Millisecond
	DefaultQuality          = resample.Best

	EnergyThreshold = 500 // RMS energy threshold for silence detection

	AudioCodecOpus AudioConfigType = "opus"
	AudioCodecPCMU AudioConfigType = "pcmu"
)

var (
	ErrInvalidFrameSize  = errors.New("frame size must be positive")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrInvalidChannels   = errors.New("channel count must be positive")
	ErrInvalidCapacity   = errors.New("buffer capacity must hold at least one frame")
	ErrUnknownCodec      = errors.New("unknown codec type")
)

// Format describes one end of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannels, f.Channels)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Frames converts a sample count in this format to frames.
func (f Format) Frames(samples int) int {
	if f.Channels <= 0 {
		return 0
	}
	return samples / f.Channels
}

// Duration of n interleaved samples.
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames(samples)) * time.Second / time.Duration(f.SampleRate)
}

type AudioConfig struct {
	SampleRate       uint32
	FrameSamples     int
	Channels         uint16
	Type             AudioConfigType
	Quality          resample.Quality
	CaptureCapacity  int           // capture accumulator size in samples
	PlaybackCapacity int           // per peer playback accumulator size in samples
	PollInterval     time.Duration // how often the capture accumulator is drained
	Reliable         bool          // send frames over the ordered, retransmitting channel
	SilenceThreshold int           // RMS below which pcmu frames are not sent, 0 disables
}

// NewOpusConfig creates AudioConfig for Opus codec
func NewOpusConfig() AudioConfig {
	return AudioConfig{
		SampleRate:       SampleRateOpus,
		FrameSamples:     FrameSamplesOpus,
		Channels:         ChannelsOpus,
		Type:             AudioCodecOpus,
		Quality:          DefaultQuality,
		CaptureCapacity:  DefaultCaptureCapacity,
		PlaybackCapacity: DefaultPlaybackCapacity,
		PollInterval:     DefaultPollInterval,
		Reliable:         true,
	}
}

// NewPCMUConfig creates AudioConfig for PCMU/G.711 codec. This is the
// default speech setup: 8kHz mono, 320 sample frames.
func NewPCMUConfig() AudioConfig {
	return AudioConfig{
		SampleRate:       SampleRatePCM,
		FrameSamples:     FrameSamplesPCM,
		Channels:         ChannelsPCM,
		Type:             AudioCodecPCMU,
		Quality:          DefaultQuality,
		CaptureCapacity:  DefaultCaptureCapacity,
		PlaybackCapacity: DefaultPlaybackCapacity,
		PollInterval:     DefaultPollInterval,
		Reliable:         true,
	}
}

// Format returns the wire format frames are encoded in.
func (ac AudioConfig) Format() Format {
	return Format{SampleRate: int(ac.SampleRate), Channels: int(ac.Channels), BitDepth: 16}
}

// FrameDuration is the time covered by one encoded frame.
func (ac AudioConfig) FrameDuration() time.Duration {
	return ac.Format().Duration(ac.FrameSamples)
}

func (ac AudioConfig) Validate() error {
	if err := ac.Format().Validate(); err != nil {
		return err
	}
	if ac.FrameSamples <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrameSize, ac.FrameSamples)
	}
	if ac.CaptureCapacity < ac.FrameSamples {
		return fmt.Errorf("capture: %w", ErrInvalidCapacity)
	}
	if ac.PlaybackCapacity < ac.FrameSamples {
		return fmt.Errorf("playback: %w", ErrInvalidCapacity)
	}
	if ac.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	switch ac.Type {
	case AudioCodecPCMU, AudioCodecOpus:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCodec, ac.Type)
	}
	perChannel := ac.FrameSamples / int(ac.Channels)
	if ac.FrameSamples%int(ac.Channels) != 0 || !IsFrameSizeValid(ac.Type, int(ac.SampleRate), perChannel) {
		return fmt.Errorf("%w: %d samples at %dHz for %s", ErrInvalidFrameSize, ac.FrameSamples, ac.SampleRate, ac.Type)
	}
	return nil
}
