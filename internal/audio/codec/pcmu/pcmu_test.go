package pcmu

import (
	"math"
	"testing"
)

func TestMuLawRoundTrip(t *testing.T) {
	for s := -32767; s <= 32767; s += 97 {
		in := int16(s)
		out := MuLawToLinear16(Linear16ToMuLaw(in))
		if d := math.Abs(float64(out) - float64(in)); d > 1024 {
			t.Fatalf("sample %d decoded to %d, error %v", in, out, d)
		}
		if in > 200 && out <= 0 || in < -200 && out >= 0 {
			t.Fatalf("sample %d lost its sign: %d", in, out)
		}
	}
}

func TestMuLawKnownValues(t *testing.T) {
	if got := Linear16ToMuLaw(0); got != 0xFF {
		t.Errorf("expected 0xFF for silence, got %#x", got)
	}
	if got := MuLawToLinear16(0xFF); got != 0 {
		t.Errorf("expected 0 for 0xFF, got %d", got)
	}
	if got := MuLawToLinear16(0x80); got != 32124 {
		t.Errorf("expected 32124 for 0x80, got %d", got)
	}
	if got := MuLawToLinear16(0x00); got != -32124 {
		t.Errorf("expected -32124 for 0x00, got %d", got)
	}
}

func TestEncoderSuppressesSilence(t *testing.T) {
	quiet := make([]int16, 320)
	for i := range quiet {
		quiet[i] = 10
	}
	enc := NewEncoder(500)
	pkt, err := enc.Encode(quiet)
	if err != nil {
		t.Fatal(err)
	}
	if pkt != nil {
		t.Fatalf("expected suppressed frame, got %d bytes", len(pkt))
	}

	enc.SilenceThreshold = 0
	pkt, _ = enc.Encode(quiet)
	if len(pkt) != len(quiet) {
		t.Fatalf("expected %d bytes with suppression off, got %d", len(quiet), len(pkt))
	}
}

func TestCodecRoundTripFrame(t *testing.T) {
	frame := make([]int16, 320)
	for i := range frame {
		frame[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
	}
	pkt, err := NewEncoder(0).Encode(frame)
	if err != nil {
		t.Fatal(err)
	}
	pcm, err := NewDecoder().Decode(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != len(frame) {
		t.Fatalf("expected %d samples, got %d", len(frame), len(pcm))
	}
	for i := range frame {
		if d := math.Abs(float64(pcm[i]) - float64(frame[i])); d > 300 {
			t.Fatalf("sample %d: expected ~%d, got %d", i, frame[i], pcm[i])
		}
	}
}
