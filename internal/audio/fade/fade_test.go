package fade

import "testing"

func ones(n int) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = 1
	}
	return buf
}

func TestCoefficientEndpoints(t *testing.T) {
	for _, n := range []int{2, ChunkSize, FrameSize, PlaybackSize} {
		if got := CoefficientIn(0, n); got != 0 {
			t.Errorf("n=%d: fade in start expected 0, got %v", n, got)
		}
		if got := CoefficientIn(n-1, n); got != 1 {
			t.Errorf("n=%d: fade in end expected 1, got %v", n, got)
		}
		if got := CoefficientOut(0, n); got != 1 {
			t.Errorf("n=%d: fade out start expected 1, got %v", n, got)
		}
		if got := CoefficientOut(n-1, n); got != 0 {
			t.Errorf("n=%d: fade out end expected 0, got %v", n, got)
		}
	}
}

func TestCoefficientIsSquared(t *testing.T) {
	// i/(n-1) = 0.5 for i=2, n=5
	if got := CoefficientIn(2, 5); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := CoefficientOut(1, 5); got != 0.5625 {
		t.Fatalf("expected 0.5625, got %v", got)
	}
}

func TestEdges(t *testing.T) {
	buf := ones(100)
	Edges(buf, FrameSize)

	if buf[0] != 0 || buf[len(buf)-1] != 0 {
		t.Fatalf("expected silent endpoints, got %v and %v", buf[0], buf[len(buf)-1])
	}
	if buf[FrameSize-1] != 1 || buf[len(buf)-FrameSize] != 1 {
		t.Fatalf("expected unity at the inner ramp ends")
	}
	for i := FrameSize; i < len(buf)-FrameSize; i++ {
		if buf[i] != 1 {
			t.Fatalf("sample %d outside the ramps was changed to %v", i, buf[i])
		}
	}
	for i := 1; i < FrameSize; i++ {
		if buf[i] < buf[i-1] {
			t.Fatalf("fade in not monotonic at %d", i)
		}
	}
}

func TestFadeClampsToHalfLength(t *testing.T) {
	buf := ones(10)
	In(buf, PlaybackSize) // clamped to 10/2-1 = 4
	if buf[0] != 0 {
		t.Fatalf("expected first sample faded, got %v", buf[0])
	}
	if buf[3] != 1 || buf[4] != 1 {
		t.Fatalf("expected ramp of 4 samples, got %v", buf[:5])
	}
}

func TestTinyBuffersAreUntouched(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5} {
		buf := ones(n)
		Edges(buf, ChunkSize)
		for i, v := range buf {
			if v != 1 {
				t.Errorf("len %d: sample %d changed to %v", n, i, v)
			}
		}
	}
}
