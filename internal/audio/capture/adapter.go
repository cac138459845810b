package capture

import (
	"fmt"
	"sync"

	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/resample"
)

// Adapter converts device chunks to the pipeline format before appending
// them: channels are averaged down (or duplicated up) and the rate is
// converted.
type Adapter struct {
	mu   sync.Mutex
	sink Appender
	src  config.Format
	dst  config.Format
	conv *resample.Converter

	mixed []float32
	out   []float32
}

func NewAdapter(sink Appender, src, dst config.Format, prim resample.Primitive, q resample.Quality) (*Adapter, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("device format: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline format: %w", err)
	}
	if src.Channels != dst.Channels && src.Channels != 1 && dst.Channels != 1 {
		return nil, fmt.Errorf("cannot map %d channels to %d", src.Channels, dst.Channels)
	}
	conv, err := resample.NewConverter(src.SampleRate, dst.SampleRate, dst.Channels, q, prim)
	if err != nil {
		return nil, err
	}
	return &Adapter{sink: sink, src: src, dst: dst, conv: conv}, nil
}

// Passthrough reports whether chunks reach the sink unchanged.
func (a *Adapter) Passthrough() bool {
	return a.src.SampleRate == a.dst.SampleRate && a.src.Channels == a.dst.Channels
}

// Append returns the number of pipeline samples the sink kept.
func (a *Adapter) Append(chunk []float32) int {
	if len(chunk) == 0 {
		return 0
	}
	if a.Passthrough() {
		return a.sink.Append(chunk)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frames := len(chunk) / a.src.Channels
	a.mixed = grow(a.mixed, frames*a.dst.Channels)
	remix(a.mixed, chunk, frames, a.src.Channels, a.dst.Channels)

	if a.conv.Identity() {
		return a.sink.Append(a.mixed)
	}
	a.out = grow(a.out, a.conv.OutputCount(len(a.mixed))+2*a.dst.Channels)
	n := a.conv.Convert(a.mixed, a.out)
	return a.sink.Append(a.out[:n])
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func remix(dst, src []float32, frames, from, to int) {
	switch {
	case from == to:
		copy(dst, src[:frames*from])
	case to == 1:
		for f := 0; f < frames; f++ {
			var sum float32
			for c := 0; c < from; c++ {
				sum += src[f*from+c]
			}
			dst[f] = sum / float32(from)
		}
	default: // from == 1
		for f := 0; f < frames; f++ {
			for c := 0; c < to; c++ {
				dst[f*to+c] = src[f]
			}
		}
	}
}
