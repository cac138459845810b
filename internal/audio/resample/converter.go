package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// Underrun continuation gains applied to the last emitted sample.
const (
	echoFirst  = 0.8
	echoSecond = 0.6
)

var (
	ErrInvalidRate     = errors.New("sample rate must be positive")
	ErrInvalidChannels = errors.New("channel count must be positive")
	ErrNilPrimitive    = errors.New("resample primitive cannot be nil")
)

// Converter resamples interleaved blocks between two declared rates.
//
// Besides the backend's filter state it keeps only the last emitted sample,
// which is used to continue the waveform when no input is available.
// A Converter is not safe for concurrent use.
type Converter struct {
	source   int
	target   int
	channels int
	quality  Quality
	prim     Primitive

	last     float32
	failures int
}

func NewConverter(source, target, channels int, q Quality, prim Primitive) (*Converter, error) {
	if prim == nil {
		return nil, ErrNilPrimitive
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}
	c := &Converter{channels: channels, quality: q, prim: prim}
	if err := c.SetRates(source, target); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRates changes the declared rates. The ratio is recomputed on every call
// so the change applies to the next Convert.
func (c *Converter) SetRates(source, target int) error {
	if source <= 0 || target <= 0 {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidRate, source, target)
	}
	c.source, c.target = source, target
	return nil
}

func (c *Converter) Source() int    { return c.source }
func (c *Converter) Target() int    { return c.target }
func (c *Converter) Channels() int  { return c.channels }
func (c *Converter) Last() float32  { return c.last }
func (c *Converter) Ratio() float64 { return float64(c.target) / float64(c.source) }
func (c *Converter) Failures() int  { return c.failures }
func (c *Converter) Identity() bool { return c.source == c.target }

// InputCount returns how many source samples produce outSamples target
// samples: floor(outFrames * source/target) frames, channel aligned.
func (c *Converter) InputCount(outSamples int) int {
	outFrames := outSamples / c.channels
	inFrames := int(math.Floor(float64(outFrames) * float64(c.source) / float64(c.target)))
	return inFrames * c.channels
}

// OutputCount returns round(inFrames * target/source) frames worth of samples.
func (c *Converter) OutputCount(inSamples int) int {
	inFrames := inSamples / c.channels
	return int(math.Round(float64(inFrames)*c.Ratio())) * c.channels
}

// Convert resamples in into out and returns the number of samples written,
// never more than len(out).
//
// With no input (or a failed primitive) it writes the decaying echo
// [last*0.8, last*0.6]. Whenever two or more samples are requested at least
// two are returned.
func (c *Converter) Convert(in, out []float32) int {
	if len(out) == 0 {
		return 0
	}
	inFrames := len(in) / c.channels
	if inFrames == 0 {
		return c.echo(out)
	}
	in = in[:inFrames*c.channels]

	var written int
	if c.Identity() {
		written = copy(out, in)
	} else {
		outFrames := min(int(math.Round(float64(inFrames)*c.Ratio())), len(out)/c.channels)
		frames, err := c.process(in, out, inFrames, outFrames)
		if err != nil {
			c.failures++
			if c.failures == 1 || c.failures%500 == 0 {
				log.Warn().Err(err).
					Int("source", c.source).
					Int("target", c.target).
					Int("failures", c.failures).
					Msg("Resampling failed, continuing with echo")
			}
			return c.echo(out)
		}
		written = min(max(frames, 0)*c.channels, len(out))
	}
	if written == 0 {
		return c.echo(out)
	}

	c.last = out[written-1]
	if written == 1 && len(out) >= 2 {
		out[1] = c.last * echoFirst
		written = 2
	}
	return written
}

func (c *Converter) process(in, out []float32, inFrames, outFrames int) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrPrimitive, r)
		}
	}()
	n, err = c.prim.Resample(in, out, inFrames, outFrames, c.Ratio(), c.quality, c.channels)
	if err != nil && !errors.Is(err, ErrPrimitive) {
		err = fmt.Errorf("%w: %w", ErrPrimitive, err)
	}
	return n, err
}

// echo continues the waveform from the last emitted sample. It does not
// update last.
func (c *Converter) echo(out []float32) int {
	switch {
	case len(out) >= 2:
		out[0] = c.last * echoFirst
		out[1] = c.last * echoSecond
		return 2
	case len(out) == 1:
		out[0] = c.last
		return 1
	}
	return 0
}
