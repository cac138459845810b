//go:build !cgo || !opus

package codec

import (
	"errors"
	"fmt"

	"p2p-voice/internal/audio/codec/iface"
	"p2p-voice/internal/audio/codec/pcmu"
	"p2p-voice/internal/audio/config"
)

var ErrOpusUnavailable = errors.New("opus codec requires cgo and the opus build tag")

// CreateEncoder creates an encoder for the configured codec.
// Without the opus build tag only PCMU is available.
func CreateEncoder(cfg config.AudioConfig) (iface.Encoder, error) {
	switch cfg.Type {
	case config.AudioCodecPCMU:
		return pcmu.NewEncoder(cfg.SilenceThreshold), nil
	case config.AudioCodecOpus:
		return nil, ErrOpusUnavailable
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
		return nil, ErrOpusUnavailable
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCodec, cfg.Type)
	}
}
