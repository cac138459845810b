//go:build cgo && opus

package opus

import (
	"errors"
	"fmt"

	"p2p-voice/internal/audio/config"

	"gopkg.in/hraban/opus.v2"
)

// Valid frame sizes at 48kHz: 2.5ms=120, 5ms=240, 10ms=480, 20ms=960, 40ms=1920, 60ms=2880
var ErrInvalidFrameSize = errors.New("invalid opus frame size for given sampleRate")

const maxPacketSize = 4000

type Encoder struct {
	enc        *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per packet
	buf        []byte
}

// NewEncoder creates a VoIP opus encoder with DTX enabled.
func NewEncoder(sampleRate, channels, frameSize int) (*Encoder, error) {
	if !config.IsFrameSizeValid(config.AudioCodecOpus, sampleRate, frameSize) {
		return nil, fmt.Errorf("%w: %d at %dHz", ErrInvalidFrameSize, frameSize, sampleRate)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, fmt.Errorf("failed to enable DTX: %w", err)
	}
	return &Encoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		buf:        make([]byte, maxPacketSize),
	}, nil
}

func NewEncoderFromConfig(cfg config.AudioConfig) (*Encoder, error) {
	return NewEncoder(int(cfg.SampleRate), int(cfg.Channels), cfg.FrameSamples/int(cfg.Channels))
}

// Encode encodes exactly one frame.
func (e *Encoder) Encode(samples []int16) ([]byte, error) {
	n, err := e.enc.Encode(samples, e.buf)
	if err != nil {
		return nil, err
	}
	if n < 3 {
		// very small packet, likely DTX/no voice
		return nil, nil
	}
	packet := make([]byte, n)
	copy(packet, e.buf[:n])
	return packet, nil
}

type Decoder struct {
	dec       *opus.Decoder
	channels  int
	frameSize int
	buf       []int16
}

func NewDecoder(sampleRate, channels, frameSize int) (*Decoder, error) {
	if !config.IsFrameSizeValid(config.AudioCodecOpus, sampleRate, frameSize) {
		return nil, fmt.Errorf("%w: %d at %dHz", ErrInvalidFrameSize, frameSize, sampleRate)
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	// room for the longest (120ms) packet
	maxFrame := sampleRate * 120 / 1000
	return &Decoder{
		dec:       dec,
		channels:  channels,
		frameSize: frameSize,
		buf:       make([]int16, maxFrame*channels),
	}, nil
}

func NewDecoderFromConfig(cfg config.AudioConfig) (*Decoder, error) {
	return NewDecoder(int(cfg.SampleRate), int(cfg.Channels), cfg.FrameSamples/int(cfg.Channels))
}

// Decode decodes one packet to interleaved samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, err
	}
	out := make([]int16, n*d.channels)
	copy(out, d.buf[:n*d.channels])
	return out, nil
}
