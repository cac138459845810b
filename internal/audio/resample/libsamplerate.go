//go:build cgo && libsamplerate

package resample

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"
)

// LibSampleRate converts through libsamplerate's one shot API. Each call is
// independent, so no state carries between blocks.
type LibSampleRate struct{}

func NewLibSampleRate() *LibSampleRate {
	return &LibSampleRate{}
}

func (LibSampleRate) Resample(in, out []float32, inFrames, outFrames int, ratio float64, q Quality, channels int) (int, error) {
	if inFrames <= 0 || outFrames <= 0 {
		return 0, nil
	}
	if channels <= 0 || len(in) < inFrames*channels {
		return 0, fmt.Errorf("%w: input shorter than %d frames", ErrPrimitive, inFrames)
	}

	src := in[:inFrames*channels]
	var (
		res []float32
		err error
	)
	switch q {
	case Fastest:
		res, err = gosamplerate.Simple(src, ratio, channels, gosamplerate.SRC_SINC_FASTEST)
	case Medium:
		res, err = gosamplerate.Simple(src, ratio, channels, gosamplerate.SRC_SINC_MEDIUM_QUALITY)
	default:
		res, err = gosamplerate.Simple(src, ratio, channels, gosamplerate.SRC_SINC_BEST_QUALITY)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPrimitive, err)
	}

	frames := min(len(res)/channels, outFrames, len(out)/channels)
	copy(out, res[:frames*channels])
	return frames, nil
}

// Default returns libsamplerate when it is compiled in.
func Default() Primitive {
	return NewLibSampleRate()
}

// Backend names the primitive chosen by Default.
const Backend = "libsamplerate"
