package resample

import (
	"math"
	"testing"
)

// The sinc filter delays its output by half the filter length, so the
// comparison searches for the lag with the smallest error.
func TestSincIdentityAtBest(t *testing.T) {
	const frames = 4000
	in := sine(frames, 8000, 440)
	out := make([]float32, frames)

	n, err := NewSinc().Resample(in, out, frames, frames, 1.0, Best, 1)
	if err != nil {
		t.Fatal(err)
	}
	if n < frames/2 {
		t.Fatalf("expected most of %d frames, got %d", frames, n)
	}

	const settle = 512
	best := math.Inf(1)
	for lag := 0; lag <= 400; lag++ {
		if lag+settle >= n {
			break
		}
		best = min(best, rms(out[lag+settle:n], in[settle:n-lag]))
	}
	if best >= 1e-3 {
		t.Fatalf("expected rms below 1e-3 after the filter delay, got %v", best)
	}
}

func TestSincRebuildsOnRateChange(t *testing.T) {
	s := NewSinc()
	in := sine(800, 8000, 440)
	out := make([]float32, 4800)
	if _, err := s.Resample(in, out, 800, 4800, 6, Best, 1); err != nil {
		t.Fatal(err)
	}
	first := s.key
	if _, err := s.Resample(in, out, 800, 1600, 2, Best, 1); err != nil {
		t.Fatal(err)
	}
	if s.key == first || s.key.outRate != 2 || s.key.inRate != 1 {
		t.Fatalf("expected a rebuilt filter for ratio 2, got %+v", s.key)
	}
}

func TestRationalize(t *testing.T) {
	cases := []struct {
		x        float64
		num, den int
	}{
		{1, 1, 1},
		{6, 6, 1},
		{44100.0 / 48000.0, 147, 160},
		{0, 0, 0},
	}
	for _, c := range cases {
		if num, den := rationalize(c.x, maxRatioDenominator); num != c.num || den != c.den {
			t.Errorf("rationalize(%v): expected %d/%d, got %d/%d", c.x, c.num, c.den, num, den)
		}
	}
}
