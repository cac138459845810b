// Package fade applies squared linear ramps at buffer seams so that
// discontinuities between blocks do not click.
package fade

// Ramp lengths in samples for the three seams of the pipeline.
const (
	ChunkSize    = 7   // both ends of each captured chunk
	FrameSize    = 10  // both ends of each emitted frame
	PlaybackSize = 200 // both ends of each rendered block
)

// CoefficientIn is the gain of sample i of an n sample fade in, (i/(n-1))^2.
func CoefficientIn(i, n int) float32 {
	x := float32(i) / float32(n-1)
	return x * x
}

// CoefficientOut is the gain of sample i of an n sample fade out, (1-i/(n-1))^2.
func CoefficientOut(i, n int) float32 {
	x := 1 - float32(i)/float32(n-1)
	return x * x
}

// clamp limits the ramp so the two ends never overlap. Zero means skip.
func clamp(n, length int) int {
	if limit := length/2 - 1; n > limit {
		n = limit
	}
	if n < 2 {
		return 0
	}
	return n
}

// In ramps up the first n samples of buf.
func In(buf []float32, n int) {
	n = clamp(n, len(buf))
	for i := 0; i < n; i++ {
		buf[i] *= CoefficientIn(i, n)
	}
}

// Out ramps down the last n samples of buf.
func Out(buf []float32, n int) {
	n = clamp(n, len(buf))
	start := len(buf) - n
	for i := 0; i < n; i++ {
		buf[start+i] *= CoefficientOut(i, n)
	}
}

// Edges fades both ends of buf.
func Edges(buf []float32, n int) {
	In(buf, n)
	Out(buf, n)
}
