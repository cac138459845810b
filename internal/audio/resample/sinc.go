package resample

import (
	"fmt"
	"math"
	"sync"

	"github.com/oov/audio/resampler"
)

// maxRatioDenominator bounds the integer rate pair a float ratio is reduced to.
const maxRatioDenominator = 1 << 16

type planarResampler interface {
	ProcessFloat32(channel int, in, out []float32) (read, written int)
}

type sincKey struct {
	inRate, outRate int
	channels        int
	quality         Quality
}

// Sinc is a pure Go band limited sinc backend. The filter keeps history
// between calls and is rebuilt when the rate pair, channel count or quality
// changes.
type Sinc struct {
	mu  sync.Mutex
	key sincKey
	r   planarResampler

	planarIn  [][]float32
	planarOut [][]float32
}

func NewSinc() *Sinc {
	return &Sinc{}
}

func sincQuality(q Quality) int {
	switch q {
	case Fastest:
		return 2
	case Medium:
		return 5
	default:
		return 10
	}
}

func (s *Sinc) Resample(in, out []float32, inFrames, outFrames int, ratio float64, q Quality, channels int) (int, error) {
	if inFrames <= 0 || outFrames <= 0 {
		return 0, nil
	}
	if channels <= 0 || len(in) < inFrames*channels || len(out) < outFrames*channels {
		return 0, fmt.Errorf("%w: buffers too short for %d/%d frames", ErrPrimitive, inFrames, outFrames)
	}
	outRate, inRate := rationalize(ratio, maxRatioDenominator)
	if outRate <= 0 || inRate <= 0 {
		return 0, fmt.Errorf("%w: ratio %v", ErrPrimitive, ratio)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sincKey{inRate: inRate, outRate: outRate, channels: channels, quality: q}
	if s.r == nil || key != s.key {
		s.r = resampler.New(channels, inRate, outRate, sincQuality(q))
		s.key = key
	}

	if channels == 1 {
		_, written := s.r.ProcessFloat32(0, in[:inFrames], out[:outFrames])
		return written, nil
	}

	s.grow(channels, inFrames, outFrames)
	for ch := 0; ch < channels; ch++ {
		pin := s.planarIn[ch][:inFrames]
		for i := range pin {
			pin[i] = in[i*channels+ch]
		}
	}
	written := outFrames
	for ch := 0; ch < channels; ch++ {
		_, w := s.r.ProcessFloat32(ch, s.planarIn[ch][:inFrames], s.planarOut[ch][:outFrames])
		written = min(written, w)
	}
	for ch := 0; ch < channels; ch++ {
		pout := s.planarOut[ch]
		for i := 0; i < written; i++ {
			out[i*channels+ch] = pout[i]
		}
	}
	return written, nil
}

func (s *Sinc) grow(channels, inFrames, outFrames int) {
	if len(s.planarIn) != channels {
		s.planarIn = make([][]float32, channels)
		s.planarOut = make([][]float32, channels)
	}
	for ch := 0; ch < channels; ch++ {
		if cap(s.planarIn[ch]) < inFrames {
			s.planarIn[ch] = make([]float32, inFrames)
		}
		if cap(s.planarOut[ch]) < outFrames {
			s.planarOut[ch] = make([]float32, outFrames)
		}
		s.planarIn[ch] = s.planarIn[ch][:cap(s.planarIn[ch])]
		s.planarOut[ch] = s.planarOut[ch][:cap(s.planarOut[ch])]
	}
}

// rationalize approximates x by num/den with den <= maxDen using continued
// fractions.
func rationalize(x float64, maxDen int) (num, den int) {
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, 0
	}
	h0, h1 := 0, 1
	k0, k1 := 1, 0
	f := x
	for i := 0; i < 64; i++ {
		a := int(math.Floor(f))
		h2, k2 := a*h1+h0, a*k1+k0
		if k2 > maxDen {
			break
		}
		h0, h1 = h1, h2
		k0, k1 = k1, k2
		frac := f - float64(a)
		if frac < 1e-12 {
			break
		}
		f = 1 / frac
	}
	if k1 == 0 {
		return 0, 0
	}
	return h1, k1
}
