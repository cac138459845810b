package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"p2p-voice/internal/audio/fade"
)

var (
	ErrInvalidFrameSize = errors.New("frame size must be positive")
	ErrInvalidCapacity  = errors.New("capacity must hold at least one frame")
	ErrNilHandler       = errors.New("frame handler cannot be nil")
)

// FrameHandler receives each emitted frame. The slice is reused after the
// call returns; copy it to keep it.
type FrameHandler func(frame []float32)

// Appender is what capture devices push samples into.
type Appender interface {
	Append(chunk []float32) int
}

// Accumulator collects irregular capture chunks in a fixed linear buffer and
// emits fixed size frames on Poll. Append and Poll may run on different
// goroutines.
type Accumulator struct {
	mu    sync.Mutex
	buf   []float32
	count int

	pollMu    sync.Mutex // owns frame
	frame     []float32
	frameSize int
	onFrame   FrameHandler

	stopping atomic.Bool
	closed   bool

	dropped atomic.Uint64
	frames  atomic.Uint64
}

func NewAccumulator(frameSize, capacity int, onFrame FrameHandler) (*Accumulator, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameSize, frameSize)
	}
	if capacity < frameSize {
		return nil, fmt.Errorf("%w: capacity %d, frame %d", ErrInvalidCapacity, capacity, frameSize)
	}
	if onFrame == nil {
		return nil, ErrNilHandler
	}
	return &Accumulator{
		buf:       make([]float32, capacity),
		frame:     make([]float32, frameSize),
		frameSize: frameSize,
		onFrame:   onFrame,
	}, nil
}

// Append copies as much of chunk as fits and fades both ends of the copied
// region. Samples that do not fit are dropped. It returns the number kept.
func (a *Accumulator) Append(chunk []float32) int {
	if len(chunk) == 0 || a.stopping.Load() {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0
	}

	n := min(len(chunk), len(a.buf)-a.count)
	if n < len(chunk) {
		a.dropped.Add(uint64(len(chunk) - n))
	}
	if n == 0 {
		return 0
	}
	region := a.buf[a.count : a.count+n]
	copy(region, chunk)
	fade.Edges(region, fade.ChunkSize)
	a.count += n
	return n
}

// Poll emits every complete frame currently buffered and returns how many
// were emitted. The handler runs without the buffer lock held.
func (a *Accumulator) Poll() int {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	emitted := 0
	for !a.stopping.Load() {
		a.mu.Lock()
		if a.closed || a.count < a.frameSize {
			a.mu.Unlock()
			break
		}
		copy(a.frame, a.buf[:a.frameSize])
		a.count = copy(a.buf, a.buf[a.frameSize:a.count])
		a.mu.Unlock()

		fade.Edges(a.frame, fade.FrameSize)
		a.onFrame(a.frame)
		a.frames.Add(1)
		emitted++
	}
	return emitted
}

// Len is the number of buffered samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Accumulator) Cap() int       { return len(a.buf) }
func (a *Accumulator) FrameSize() int { return a.frameSize }

// Dropped is the total number of samples truncated on overflow.
func (a *Accumulator) Dropped() uint64 { return a.dropped.Load() }

// Frames is the total number of frames emitted.
func (a *Accumulator) Frames() uint64 { return a.frames.Load() }

// Stop makes further Append and Poll calls no-ops. Capture callbacks can
// still be in flight on return.
func (a *Accumulator) Stop() {
	a.stopping.Store(true)
}

// Close stops the accumulator and releases its buffer. It is safe to call
// more than once.
func (a *Accumulator) Close() error {
	a.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.count = 0
	a.buf = nil
	return nil
}
