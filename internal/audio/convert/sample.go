package convert

import (
	"encoding/binary"
	"math"
)

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	} else if v < -1 {
		return -1
	}
	return v
}

func Float32ToInt16(src []float32) []int16 {
	dst := make([]int16, len(src))
	Float32ToInt16Into(dst, src)
	return dst
}

// Float32ToInt16Into writes min(len(dst), len(src)) samples and returns the count.
func Float32ToInt16Into(dst []int16, src []float32) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = int16(clampUnit(src[i]) * math.MaxInt16)
	}
	return n
}

func Int16ToFloat32(src []int16) []float32 {
	dst := make([]float32, len(src))
	Int16ToFloat32Into(dst, src)
	return dst
}

func Int16ToFloat32Into(dst []float32, src []int16) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / math.MaxInt16
	}
	return n
}

// BytesToFloat32 converts little endian f32 bytes. A trailing partial sample is ignored.
func BytesToFloat32(src []byte) []float32 {
	dst := make([]float32, len(src)/4)
	BytesToFloat32Into(dst, src)
	return dst
}

func BytesToFloat32Into(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/4)
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return n
}

func Float32ToBytes(data []float32) []byte {
	buf := make([]byte, len(data)*4)
	Float32ToBytesInto(buf, data)
	return buf
}

func Float32ToBytesInto(dst []byte, src []float32) int {
	n := min(len(dst)/4, len(src))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(src[i]))
	}
	return n
}

// S16BytesToFloat32Into decodes little endian s16 device bytes.
func S16BytesToFloat32Into(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := 0; i < n; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[i*2:]))) / math.MaxInt16
	}
	return n
}

// Int16ToBytes convert int16 sample to byte (Little Endian)
func Int16ToBytes(src []int16) []byte {
	dst := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], uint16(v))
	}
	return dst
}
