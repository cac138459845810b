//go:build !cgo || !libsamplerate

package resample

// Default returns the pure Go sinc backend. Build with the libsamplerate tag
// to use libsamplerate instead.
func Default() Primitive {
	return NewSinc()
}

// Backend names the primitive chosen by Default.
const Backend = "sinc"
