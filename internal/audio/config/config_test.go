package config

import (
	"errors"
	"testing"
	"time"
)

func TestPresetsAreValid(t *testing.T) {
	for _, cfg := range []AudioConfig{NewPCMUConfig(), NewOpusConfig()} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s preset: unexpected error %v", cfg.Type, err)
		}
	}
}

func TestPCMUPresetMatchesSpeechDefaults(t *testing.T) {
	cfg := NewPCMUConfig()
	if cfg.SampleRate != 8000 {
		t.Errorf("expected 8000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.FrameSamples != 320 {
		t.Errorf("expected 320 sample frames, got %d", cfg.FrameSamples)
	}
	if cfg.CaptureCapacity != 100000 {
		t.Errorf("expected capture capacity 100000, got %d", cfg.CaptureCapacity)
	}
	if got := cfg.FrameDuration(); got != 40*time.Millisecond {
		t.Errorf("expected 40ms frames, got %v", got)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AudioConfig)
		want   error
	}{
		{"zero frame", func(c *AudioConfig) { c.FrameSamples = 0 }, ErrInvalidFrameSize},
		{"negative frame", func(c *AudioConfig) { c.FrameSamples = -4 }, ErrInvalidFrameSize},
		{"zero rate", func(c *AudioConfig) { c.SampleRate = 0 }, ErrInvalidSampleRate},
		{"zero channels", func(c *AudioConfig) { c.Channels = 0 }, ErrInvalidChannels},
		{"small capture", func(c *AudioConfig) { c.CaptureCapacity = c.FrameSamples - 1 }, ErrInvalidCapacity},
		{"small playback", func(c *AudioConfig) { c.PlaybackCapacity = 10 }, ErrInvalidCapacity},
		{"codec", func(c *AudioConfig) { c.Type = "g722" }, ErrUnknownCodec},
		{"partial millisecond", func(c *AudioConfig) { c.FrameSamples = 324 }, ErrInvalidFrameSize},
		{"opus duration", func(c *AudioConfig) { c.Type = AudioCodecOpus; c.FrameSamples = 320 }, ErrInvalidFrameSize},
		{"split frame", func(c *AudioConfig) { c.Channels = 3 }, ErrInvalidFrameSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewPCMUConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}
	if got := f.Duration(96000); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Fatalf("expected 0 for empty format, got %v", got)
	}
}

func TestIsFrameSizeValid(t *testing.T) {
	tests := []struct {
		codec      AudioConfigType
		rate, size int
		want       bool
	}{
		{AudioCodecOpus, 48000, 960, true},
		{AudioCodecOpus, 48000, 2880, true},
		{AudioCodecOpus, 48000, 1000, false},
		{AudioCodecOpus, 16000, 640, true},
		{AudioCodecOpus, 8000, 320, true},
		{AudioCodecOpus, 8000, 400, false},
		{AudioCodecOpus, 44100, 441, false},
		{AudioCodecPCMU, 8000, 320, true},
		{AudioCodecPCMU, 8000, 8, true},
		{AudioCodecPCMU, 8000, 12, false},
		{AudioCodecPCMU, 0, 320, false},
		{"g729", 8000, 80, false},
	}
	for _, tt := range tests {
		if got := IsFrameSizeValid(tt.codec, tt.rate, tt.size); got != tt.want {
			t.Errorf("%s %d@%dHz: expected %v, got %v", tt.codec, tt.size, tt.rate, tt.want, got)
		}
	}
}
