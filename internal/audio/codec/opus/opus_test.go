//go:build cgo && opus

package opus

import (
	"errors"
	"math"
	"testing"
)

func TestInvalidFrameSize(t *testing.T) {
	if _, err := NewEncoder(48000, 1, 1000); !errors.Is(err, ErrInvalidFrameSize) {
		t.Fatalf("expected ErrInvalidFrameSize, got %v", err)
	}
	if _, err := NewDecoder(8000, 1, 333); !errors.Is(err, ErrInvalidFrameSize) {
		t.Fatalf("expected ErrInvalidFrameSize, got %v", err)
	}
}

func TestOpusRoundTrip(t *testing.T) {
	enc, err := NewEncoder(48000, 1, 960)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(48000, 1, 960)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]int16, 960)
	for i := range frame {
		frame[i] = int16(10000 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	pkt, err := enc.Encode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt) == 0 {
		t.Fatal("expected a packet for a loud tone")
	}
	pcm, err := dec.Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 960 {
		t.Fatalf("expected 960 samples, got %d", len(pcm))
	}
}
