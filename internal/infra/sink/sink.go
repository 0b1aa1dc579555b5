// Package sink provides audio outputs that consume 16-bit little-endian PCM.
package sink

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// Sink is an audio output. Init is called when a playback session starts and
// Deinit when it ends; Write may accept fewer bytes than given.
type Sink interface {
	Init(format pcm.Format) error
	Write(p []byte) (int, error)
	Deinit() error
}

var (
	ErrNotInitialized      = errors.New("sink not initialized")
	ErrUnsupportedFormat   = errors.New("unsupported sample format")
	ErrUnsupportedSinkType = errors.New("unsupported sink type")
)

// New creates a sink by type name from its settings map.
func New(typ string, settings map[string]any) (Sink, error) {
	zlog.Debug().Msgf("creating sink: type=%s settings=%+v", typ, settings)
	switch typ {
	case "discard", "":
		return NewDiscard(settings)
	case "wav":
		return NewWAV(settings)
	case "portaudio":
		return NewPortAudio(settings)
	default:
		return nil, errors.Wrapf(ErrUnsupportedSinkType, "type=%s", typ)
	}
}

// decodeSettings fills cfg from a settings map, then applies defaults and
// validation tags.
func decodeSettings(settings map[string]any, cfg any) error {
	if err := mapstructure.Decode(settings, cfg); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(cfg); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func checkFormat(format pcm.Format) error {
	if format.BitDepth != 16 {
		return errors.Wrapf(ErrUnsupportedFormat, "bit depth %d", format.BitDepth)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return errors.Wrapf(ErrUnsupportedFormat, "%s", format)
	}
	return nil
}

// sampleAssembler turns a byte stream into int16 samples, holding back an odd
// trailing byte until the next write.
type sampleAssembler struct {
	half    byte
	hasHalf bool
}

// each calls fn for every complete sample in p and returns the number of bytes
// consumed. It stops after the first sample for which fn fails; that sample
// counts as consumed.
func (a *sampleAssembler) each(p []byte, fn func(int16) error) (int, error) {
	n := 0
	for n < len(p) {
		if !a.hasHalf {
			a.half = p[n]
			a.hasHalf = true
			n++
			continue
		}
		v := int16(uint16(a.half) | uint16(p[n])<<8)
		a.hasHalf = false
		n++
		if err := fn(v); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (a *sampleAssembler) reset() {
	a.hasHalf = false
}
