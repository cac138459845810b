package capture

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]float32
}

func (r *recorder) handle(frame []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]float32(nil), frame...))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func constant(n int, v float32) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestNewAccumulatorValidation(t *testing.T) {
	noop := func([]float32) {}
	if _, err := NewAccumulator(0, 100, noop); !errors.Is(err, ErrInvalidFrameSize) {
		t.Errorf("expected ErrInvalidFrameSize, got %v", err)
	}
	if _, err := NewAccumulator(-1, 100, noop); !errors.Is(err, ErrInvalidFrameSize) {
		t.Errorf("expected ErrInvalidFrameSize, got %v", err)
	}
	if _, err := NewAccumulator(320, 100, noop); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := NewAccumulator(320, 1000, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestIrregularChunksEndToEnd(t *testing.T) {
	rec := &recorder{}
	acc, err := NewAccumulator(320, 100000, rec.handle)
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{150, 200, 100} {
		acc.Append(constant(n, 0.5))
	}
	if got := acc.Poll(); got != 1 {
		t.Fatalf("expected 1 frame, got %d", got)
	}
	if got := acc.Len(); got != 130 {
		t.Fatalf("expected 130 retained samples, got %d", got)
	}

	acc.Append(constant(190, 0.5))
	if got := acc.Poll(); got != 1 {
		t.Fatalf("expected a second frame, got %d", got)
	}
	if got := acc.Len(); got != 0 {
		t.Fatalf("expected empty buffer, got %d", got)
	}

	if rec.count() != 2 {
		t.Fatalf("expected 2 recorded frames, got %d", rec.count())
	}
	for _, f := range rec.frames {
		if len(f) != 320 {
			t.Fatalf("expected frame of 320, got %d", len(f))
		}
		if f[0] != 0 || f[len(f)-1] != 0 {
			t.Fatalf("expected faded frame edges, got %v and %v", f[0], f[len(f)-1])
		}
	}
}

func TestConservation(t *testing.T) {
	rec := &recorder{}
	acc, err := NewAccumulator(160, 100000, rec.handle)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	total := 0
	for i := 0; i < 200; i++ {
		n := rng.Intn(400)
		total += acc.Append(constant(n, 0.25))
		if rng.Intn(3) == 0 {
			acc.Poll()
		}
		if got := rec.count()*160 + acc.Len(); got != total {
			t.Fatalf("step %d: emitted+retained %d != appended %d", i, got, total)
		}
	}
}

func TestPollBelowFrameSize(t *testing.T) {
	rec := &recorder{}
	acc, _ := NewAccumulator(320, 1000, rec.handle)
	acc.Append(constant(319, 1))
	if got := acc.Poll(); got != 0 {
		t.Fatalf("expected no frame, got %d", got)
	}
	if acc.Len() != 319 {
		t.Fatalf("expected 319 retained, got %d", acc.Len())
	}
}

func TestCapacityTruncatesNewest(t *testing.T) {
	acc, _ := NewAccumulator(10, 100, func([]float32) {})
	if got := acc.Append(constant(80, 1)); got != 80 {
		t.Fatalf("expected 80 kept, got %d", got)
	}
	if got := acc.Append(constant(50, 1)); got != 20 {
		t.Fatalf("expected 20 kept, got %d", got)
	}
	if acc.Len() != 100 {
		t.Fatalf("expected full buffer, got %d", acc.Len())
	}
	if acc.Dropped() != 30 {
		t.Fatalf("expected 30 dropped, got %d", acc.Dropped())
	}
	if got := acc.Append(constant(1, 1)); got != 0 {
		t.Fatalf("expected nothing kept in a full buffer, got %d", got)
	}
}

func TestChunkEdgesAreFaded(t *testing.T) {
	var frame []float32
	acc, _ := NewAccumulator(100, 1000, func(f []float32) { frame = append([]float32(nil), f...) })
	acc.Append(constant(50, 1))
	acc.Append(constant(50, 1))
	acc.Poll()
	// seam between the two chunks
	if frame[49] != 0 || frame[50] != 0 {
		t.Fatalf("expected faded seam, got %v %v", frame[49], frame[50])
	}
	if frame[25] != 1 {
		t.Fatalf("expected untouched middle, got %v", frame[25])
	}
}

func TestEmptyAppendIsNoop(t *testing.T) {
	acc, _ := NewAccumulator(10, 100, func([]float32) {})
	if got := acc.Append(nil); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if acc.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", acc.Len())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	acc, _ := NewAccumulator(10, 100, func([]float32) {})
	acc.Append(constant(50, 1))
	if err := acc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := acc.Close(); err != nil {
		t.Fatal(err)
	}
	if got := acc.Append(constant(10, 1)); got != 0 {
		t.Fatalf("expected append after close to be dropped, got %d", got)
	}
	if got := acc.Poll(); got != 0 {
		t.Fatalf("expected no frames after close, got %d", got)
	}
}

func TestConcurrentAppendPoll(t *testing.T) {
	const capacity = 4096
	rec := &recorder{}
	acc, _ := NewAccumulator(256, capacity, rec.handle)

	ctxDone := make(chan struct{})
	var wg sync.WaitGroup
	var appended int64
	var mu sync.Mutex

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				n := acc.Append(constant(rng.Intn(300)+1, 0.1))
				mu.Lock()
				appended += int64(n)
				mu.Unlock()
				if l := acc.Len(); l < 0 || l > capacity {
					t.Errorf("count %d out of range", l)
					return
				}
			}
		}(int64(w))
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		for {
			select {
			case <-ctxDone:
				return
			default:
				acc.Poll()
				time.Sleep(time.Microsecond)
			}
		}
	}()

	wg.Wait()
	close(ctxDone)
	<-pollDone
	acc.Poll()

	mu.Lock()
	defer mu.Unlock()
	if got := int64(rec.count()*256 + acc.Len()); got != appended {
		t.Fatalf("emitted+retained %d != appended %d", got, appended)
	}
}
