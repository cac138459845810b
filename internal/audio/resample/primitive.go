package resample

import "errors"

var ErrPrimitive = errors.New("resample primitive failed")

// Primitive is a band limited rate conversion of interleaved samples.
// It reads up to inFrames frames from in, writes up to outFrames frames
// to out and returns the number of frames written.
type Primitive interface {
	Resample(in, out []float32, inFrames, outFrames int, ratio float64, q Quality, channels int) (int, error)
}

// PrimitiveFunc adapts a function to Primitive.
type PrimitiveFunc func(in, out []float32, inFrames, outFrames int, ratio float64, q Quality, channels int) (int, error)

func (f PrimitiveFunc) Resample(in, out []float32, inFrames, outFrames int, ratio float64, q Quality, channels int) (int, error) {
	return f(in, out, inFrames, outFrames, ratio, q, channels)
}
