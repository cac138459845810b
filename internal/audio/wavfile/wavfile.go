// Package wavfile stands in for audio devices: a Source replays a WAV file
// into the capture path and a Sink records rendered playback to one.
package wavfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"p2p-voice/internal/audio/capture"
	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/convert"
	"p2p-voice/internal/audio/playback"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidFile   = errors.New("not a valid wav file")
	ErrInvalidPeriod = errors.New("period must be positive")
	ErrStarted       = errors.New("already started")
)

const wavFormatPCM = 1

// Source plays a WAV file into an Appender one period at a time, the way a
// capture callback would.
type Source struct {
	path   string
	format config.Format
	data   []float32
	period time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSource decodes the whole file up front.
func NewSource(path string, period time.Duration) (*Source, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(math.Exp2(float64(bitDepth - 1)))
	data := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		data[i] = float32(v) / scale
	}

	s := &Source{
		path: path,
		format: config.Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   bitDepth,
		},
		data:   data,
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.format.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("file", path).Str("format", s.format.String()).
		Dur("length", s.format.Duration(len(data))).Msg("Loaded wav source")
	return s, nil
}

func (s *Source) Format() config.Format { return s.format }

// Samples is the decoded, interleaved file content.
func (s *Source) Samples() []float32 { return s.data }

// Start feeds sink in the background until the file ends or Close is called.
func (s *Source) Start(sink capture.Appender) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	s.started = true

	chunk := s.format.SampleRate * s.format.Channels * int(s.period) / int(time.Second)
	chunk = max(chunk-chunk%s.format.Channels, s.format.Channels)
	go s.feed(sink, chunk)
	return nil
}

func (s *Source) feed(sink capture.Appender, chunk int) {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for start := 0; start < len(s.data); start += chunk {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			end := min(start+chunk, len(s.data))
			sink.Append(s.data[start:end])
		}
	}
	log.Info().Str("file", s.path).Msg("Wav source finished")
}

// Done is closed once the whole file has been fed or the source is closed.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return nil
}

// Sink pulls from a playback Reader once per period and records the result
// as 16 bit PCM.
type Sink struct {
	path   string
	format config.Format
	period time.Duration

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	samples []float32
	pcm     []int16
	buf     *goaudio.IntBuffer
	written int
	closed  bool

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSink(path string, format config.Format, period time.Duration) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	format.BitDepth = 16
	return &Sink{
		path:   path,
		format: format,
		period: period,
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, 16, format.Channels, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: 16,
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

func (s *Sink) Format() config.Format { return s.format }

// Written is the number of samples recorded so far.
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Render pulls n samples from src and appends them to the file.
func (s *Sink) Render(src playback.Reader, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playback.ErrClosed
	}
	if cap(s.samples) < n {
		s.samples = make([]float32, n)
		s.pcm = make([]int16, n)
		s.buf.Data = make([]int, n)
	}
	samples := s.samples[:n]
	src.Read(samples)
	convert.Float32ToInt16Into(s.pcm[:n], samples)
	data := s.buf.Data[:n]
	for i, v := range s.pcm[:n] {
		data[i] = int(v)
	}
	s.buf.Data = data
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	s.written += n
	return nil
}

// Start renders from src every period until Close.
func (s *Sink) Start(src playback.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playback.ErrClosed
	}
	if s.started {
		return ErrStarted
	}
	s.started = true

	n := s.format.Frames(s.format.SampleRate*s.format.Channels*int(s.period)/int(time.Second)) * s.format.Channels
	n = max(n, s.format.Channels)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.Render(src, n); err != nil {
					log.Error().Err(err).Msg("Wav sink stopped")
					return
				}
			}
		}
	}()
	return nil
}

// Close stops rendering and finalises the WAV header.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	started := s.started
	s.mu.Unlock()

	if started {
		s.stopOnce.Do(func() { close(s.stop) })
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := errors.Join(s.enc.Close(), s.file.Close())
	log.Info().Str("file", s.path).Str("length", s.format.Duration(s.written).String()).Msg("Wav sink closed")
	return err
}
