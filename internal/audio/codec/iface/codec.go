package iface

// Encoder turns one frame of interleaved int16 PCM into a packet. A nil
// packet with a nil error means the frame was suppressed (silence/DTX).
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns one packet back into interleaved int16 PCM.
type Decoder interface {
	Decode(encoded []byte) ([]int16, error)
}
