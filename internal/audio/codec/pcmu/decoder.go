package pcmu

// Decoder is a G.711 mu-law decoder.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode converts mu-law bytes to PCM int16.
func (d *Decoder) Decode(mu []byte) ([]int16, error) {
	return DecodeMuLawToPCM16(mu), nil
}

func MuLawToLinear16(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F
	value := ((int16(mantissa) << 3) + muBias) << exponent
	value -= muBias
	if sign != 0 {
		return -value
	}
	return value
}

func DecodeMuLawToPCM16(mu []byte) []int16 {
	out := make([]int16, len(mu))
	for i, b := range mu {
		out[i] = MuLawToLinear16(b)
	}
	return out
}
