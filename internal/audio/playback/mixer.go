package playback

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/resample"

	"github.com/rs/zerolog/log"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Mixer keeps one Accumulator per remote peer and sums them at render time.
// Every stream gets its own primitive from newPrim, so filter history never
// crosses between peers.
type Mixer struct {
	in       config.Format
	out      config.Format
	capacity int
	newPrim  func() resample.Primitive
	quality  resample.Quality

	mu      sync.RWMutex
	streams map[string]*Accumulator
	closed  bool

	renderMu sync.Mutex
	scratch  []float32

	// totals of streams that have been removed
	removedUnderruns uint64
	removedDropped   uint64
}

func NewMixer(in, out config.Format, capacity int, newPrim func() resample.Primitive, q resample.Quality) (*Mixer, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("stream format: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("device format: %w", err)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if newPrim == nil {
		return nil, resample.ErrNilPrimitive
	}
	return &Mixer{
		in:       in,
		out:      out,
		capacity: capacity,
		newPrim:  newPrim,
		quality:  q,
		streams:  make(map[string]*Accumulator),
	}, nil
}

func (m *Mixer) lookup(peerID string) (*Accumulator, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	acc, ok := m.streams[peerID]
	return acc, ok, nil
}

// AddPeer creates the stream for peerID, or returns the existing one. The
// stream is built before the lock is taken so the render callback is never
// held up by the allocation.
func (m *Mixer) AddPeer(peerID string) (*Accumulator, error) {
	if acc, ok, err := m.lookup(peerID); err != nil || ok {
		return acc, err
	}

	conv, err := resample.NewConverter(m.in.SampleRate, m.out.SampleRate, m.out.Channels, m.quality, m.newPrim())
	if err != nil {
		return nil, err
	}
	acc, err := NewAccumulator(m.in, m.out, m.capacity, conv)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = acc.Close()
		return nil, ErrClosed
	}
	if existing, ok := m.streams[peerID]; ok {
		m.mu.Unlock()
		_ = acc.Close()
		return existing, nil
	}
	m.streams[peerID] = acc
	m.mu.Unlock()

	log.Info().Str("peer", peerID).Str("in", m.in.String()).Str("out", m.out.String()).Msg("Playback stream added")
	return acc, nil
}

// RemovePeer closes and forgets the peer's stream.
func (m *Mixer) RemovePeer(peerID string) {
	m.mu.Lock()
	acc, ok := m.streams[peerID]
	if ok {
		delete(m.streams, peerID)
		m.removedUnderruns += acc.Underruns()
		m.removedDropped += acc.Dropped()
	}
	m.mu.Unlock()
	if ok {
		_ = acc.Close()
		log.Info().Str("peer", peerID).Msg("Playback stream removed")
	}
}

// Write buffers a chunk for peerID, creating the stream on first audio.
func (m *Mixer) Write(peerID string, chunk []float32, format config.Format) (int, error) {
	acc, err := m.AddPeer(peerID)
	if err != nil {
		return 0, err
	}
	return acc.Write(chunk, format)
}

// Read renders the sum of every peer stream into out, clamped to [-1, 1].
// The whole of out is always written; the return value is the longest
// converted run among the streams.
func (m *Mixer) Read(out []float32) int {
	clear(out)
	m.renderMu.Lock()
	defer m.renderMu.Unlock()

	if cap(m.scratch) < len(out) {
		m.scratch = make([]float32, len(out))
	}
	scratch := m.scratch[:len(out)]

	m.mu.RLock()
	defer m.mu.RUnlock()
	written := 0
	for _, acc := range m.streams {
		n := acc.Read(scratch)
		for i := 0; i < n; i++ {
			out[i] += scratch[i]
		}
		written = max(written, n)
	}
	if len(m.streams) > 1 {
		for i := 0; i < written; i++ {
			if out[i] > 1 {
				out[i] = 1
			} else if out[i] < -1 {
				out[i] = -1
			}
		}
	}
	return written
}

// Backlog reports how much audio is buffered for peerID.
func (m *Mixer) Backlog(peerID string) (time.Duration, error) {
	m.mu.RLock()
	acc, ok := m.streams[peerID]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return acc.Backlog(), nil
}

// MaxBacklog is the largest backlog across peers.
func (m *Mixer) MaxBacklog() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var longest time.Duration
	for _, acc := range m.streams {
		longest = max(longest, acc.Backlog())
	}
	return longest
}

// Peers returns the ids of all streams, sorted.
func (m *Mixer) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Underruns is the total across current and removed streams.
func (m *Mixer) Underruns() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.removedUnderruns
	for _, acc := range m.streams {
		total += acc.Underruns()
	}
	return total
}

// Dropped is the total number of samples discarded on overflow.
func (m *Mixer) Dropped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := m.removedDropped
	for _, acc := range m.streams {
		total += acc.Dropped()
	}
	return total
}

// Close closes every stream. It is safe to call more than once.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	streams := m.streams
	m.streams = make(map[string]*Accumulator)
	m.mu.Unlock()

	var errs []error
	for _, acc := range streams {
		errs = append(errs, acc.Close())
	}
	return errors.Join(errs...)
}
