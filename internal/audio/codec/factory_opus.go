//go:build cgo && opus

package codec

import (
	"fmt"

	"p2p-voice/internal/audio/codec/iface"
	"p2p-voice/internal/audio/codec/opus"
	"p2p-voice/internal/audio/codec/pcmu"
	"p2p-voice/internal/audio/config"
)

// CreateEncoder creates an encoder for the configured codec.
// With the opus build tag both codecs are available.
func CreateEncoder(cfg config.AudioConfig) (iface.Encoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return pcmu.NewEncoder(cfg.SilenceThreshold), nil
	case config.AudioCodecOpus:
		return opus.NewEncoderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCodec, cfg.Type)
	}
}

// CreateDecoder creates a decoder for the configured codec.
func CreateDecoder(cfg config.AudioConfig) (iface.Decoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return pcmu.NewDecoder(), nil
	case config.AudioCodecOpus:
		return opus.NewDecoderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCodec, cfg.Type)
	}
}
