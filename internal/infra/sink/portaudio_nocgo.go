//go:build !cgo

package sink

import "github.com/cockroachdb/errors"

// ErrPortAudioUnavailable is returned when the binary was built without cgo.
var ErrPortAudioUnavailable = errors.New("portaudio sink requires a cgo build")

func newPortAudio(PortAudioConfig) (Sink, error) {
	return nil, ErrPortAudioUnavailable
}
