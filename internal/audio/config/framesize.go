package config

import "slices"

// opus frames are 2.5, 5, 10, 20, 40 or 60ms
var opusFrameUnits = []int{1, 2, 4, 8, 16, 24} // in 2.5ms steps

var opusSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// IsFrameSizeValid reports whether frameSize samples per channel at
// sampleRate is a frame the codec can carry. Opus needs one of its fixed
// durations at a rate it supports; PCMU takes any whole number of
// milliseconds.
func IsFrameSizeValid(codec AudioConfigType, sampleRate, frameSize int) bool {
	if sampleRate <= 0 || frameSize <= 0 {
		return false
	}
	switch codec {
	case AudioCodecOpus:
		if !slices.Contains(opusSampleRates, sampleRate) || frameSize*400%sampleRate != 0 {
			return false
		}
		return slices.Contains(opusFrameUnits, frameSize*400/sampleRate)
	case AudioCodecPCMU:
		return frameSize*1000%sampleRate == 0
	default:
		return false
	}
}
