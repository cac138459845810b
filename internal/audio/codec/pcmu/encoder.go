package pcmu

import "math"

const muBias = 0x84
const muClip = 32635

// Encoder is a G.711 mu-law encoder. Frames whose RMS energy is below
// SilenceThreshold are suppressed; a zero threshold sends everything.
type Encoder struct {
	SilenceThreshold int
}

func NewEncoder(silenceThreshold int) *Encoder {
	return &Encoder{SilenceThreshold: silenceThreshold}
}

// Encode encodes PCM int16 samples to mu-law bytes.
func (e *Encoder) Encode(data []int16) ([]byte, error) {
	if len(data) == 0 || IsSilence(data, e.SilenceThreshold) {
		return nil, nil
	}
	return EncodePCM16ToMuLaw(data), nil
}

func Linear16ToMuLaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muClip {
		s = muClip
	}
	s += muBias
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func EncodePCM16ToMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = Linear16ToMuLaw(s)
	}
	return out
}

// IsSilence reports whether the frame's RMS energy is below threshold.
func IsSilence(frame []int16, threshold int) bool {
	if threshold <= 0 || len(frame) == 0 {
		return false
	}
	var sumSquares float64
	for _, sample := range frame {
		sumSquares += float64(sample) * float64(sample)
	}
	return math.Sqrt(sumSquares/float64(len(frame))) < float64(threshold)
}
