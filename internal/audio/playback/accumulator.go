package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/fade"
	"p2p-voice/internal/audio/resample"

	"github.com/rs/zerolog/log"
)

var (
	ErrClosed            = errors.New("playback accumulator closed")
	ErrFormatMismatch    = errors.New("chunk sample rate does not match the stream")
	ErrUnsupportedLayout = errors.New("unsupported channel layout")
	ErrConverterMismatch = errors.New("converter does not match the stream formats")
	ErrInvalidCapacity   = errors.New("capacity must be positive")
	ErrNilConverter      = errors.New("converter cannot be nil")
)

const underrunLogEvery = 1000

// Reader is what the render callback pulls from.
type Reader interface {
	Read(out []float32) int
}

// Accumulator buffers decoded PCM at the stream rate with the device channel
// layout and serves render callbacks at the device rate.
type Accumulator struct {
	mu    sync.Mutex
	buf   []float32
	count int

	in  config.Format
	out config.Format

	convMu sync.Mutex // owns conv and drain
	conv   *resample.Converter
	drain  []float32

	stopping atomic.Bool
	closed   bool

	underruns atomic.Uint64
	dropped   atomic.Uint64
}

func NewAccumulator(in, out config.Format, capacity int, conv *resample.Converter) (*Accumulator, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("stream format: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("device format: %w", err)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if conv == nil {
		return nil, ErrNilConverter
	}
	if conv.Source() != in.SampleRate || conv.Target() != out.SampleRate || conv.Channels() != out.Channels {
		return nil, fmt.Errorf("%w: %d->%d/%dch for %s -> %s",
			ErrConverterMismatch, conv.Source(), conv.Target(), conv.Channels(), in, out)
	}
	capacity -= capacity % out.Channels
	return &Accumulator{
		buf:  make([]float32, capacity),
		in:   in,
		out:  out,
		conv: conv,
	}, nil
}

// Write buffers a decoded chunk. Mono is duplicated to every device channel,
// multichannel is averaged to a mono device. Samples beyond capacity are
// dropped. It returns the number of buffered samples added.
func (a *Accumulator) Write(chunk []float32, format config.Format) (int, error) {
	if a.stopping.Load() {
		return 0, ErrClosed
	}
	if format.SampleRate != a.in.SampleRate {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFormatMismatch, format.SampleRate, a.in.SampleRate)
	}
	from, to := format.Channels, a.out.Channels
	if from <= 0 || (from != to && from != 1 && to != 1) {
		return 0, fmt.Errorf("%w: %d -> %d channels", ErrUnsupportedLayout, from, to)
	}
	frames := len(chunk) / from
	if frames == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}

	space := (len(a.buf) - a.count) / to
	keep := min(frames, space)
	if keep < frames {
		a.dropped.Add(uint64((frames - keep) * to))
	}
	dst := a.buf[a.count : a.count+keep*to]
	switch {
	case from == to:
		copy(dst, chunk[:keep*from])
	case from == 1:
		for f := 0; f < keep; f++ {
			for c := 0; c < to; c++ {
				dst[f*to+c] = chunk[f]
			}
		}
	default:
		for f := 0; f < keep; f++ {
			var sum float32
			for c := 0; c < from; c++ {
				sum += chunk[f*from+c]
			}
			dst[f] = sum / float32(from)
		}
	}
	a.count += keep * to
	return keep * to, nil
}

// Read fills out at the device rate. It drains what the converter needs
// (or whatever is buffered) under the lock and converts outside it. Any part
// of out the converter did not produce is silence. It returns the number of
// converted samples.
func (a *Accumulator) Read(out []float32) int {
	if len(out) == 0 {
		return 0
	}
	if a.stopping.Load() {
		clear(out)
		return 0
	}

	a.convMu.Lock()
	defer a.convMu.Unlock()

	needed := a.conv.InputCount(len(out))
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		clear(out)
		return 0
	}
	n := min(needed, a.count)
	n -= n % a.out.Channels
	if cap(a.drain) < n {
		a.drain = make([]float32, n)
	}
	drained := a.drain[:n]
	copy(drained, a.buf[:n])
	a.count = copy(a.buf, a.buf[n:a.count])
	a.mu.Unlock()

	if n < needed {
		if u := a.underruns.Add(1); u == 1 || u%underrunLogEvery == 0 {
			log.Debug().Uint64("underruns", u).Int("needed", needed).Int("available", n).Msg("Playback underrun")
		}
	}

	written := a.conv.Convert(drained, out)
	clear(out[written:])
	fade.Edges(out[:written], fade.PlaybackSize)
	return written
}

// Len is the number of buffered samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Accumulator) Cap() int { return len(a.buf) }

// Backlog is how much audio is buffered, measured at the stream rate.
func (a *Accumulator) Backlog() time.Duration {
	a.mu.Lock()
	count := a.count
	a.mu.Unlock()
	return time.Duration(count/a.out.Channels) * time.Second / time.Duration(a.in.SampleRate)
}

func (a *Accumulator) Underruns() uint64 { return a.underruns.Load() }
func (a *Accumulator) Dropped() uint64   { return a.dropped.Load() }

// Stop makes further Write calls fail and Read calls return silence.
func (a *Accumulator) Stop() {
	a.stopping.Store(true)
}

// Close stops the accumulator and releases the buffer. It is safe to call
// more than once.
func (a *Accumulator) Close() error {
	a.Stop()
	a.convMu.Lock()
	defer a.convMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.count = 0
	a.buf = nil
	a.drain = nil
	return nil
}
