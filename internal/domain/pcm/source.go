package pcm

import "github.com/cockroachdb/errors"

// ErrInvalidDstSize is returned when a destination buffer does not hold a
// whole number of frames.
var ErrInvalidDstSize = errors.New("dst size must be multiple of channels")

// Source produces interleaved float32 samples in [-1, 1].
type Source interface {
	// SampleRate of the stream in Hz.
	SampleRate() int
	// Channels count (e.g., 1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst and returns the number of float32 values written.
	// When n == 0 with err == io.EOF, the stream is finished.
	ReadSamples(dst []float32) (n int, err error)
	// Close releases any resources.
	Close() error
}
