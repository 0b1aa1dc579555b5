package decoder

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/jfreymuth/oggvorbis"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

type oggReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

type oggSource struct {
	dec  oggReader
	body io.Reader
}

func openOgg(r io.Reader) (*oggSource, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		_ = closeReader(r)
		return nil, errors.Wrap(err, "failed to open ogg vorbis stream")
	}
	return &oggSource{dec: dec, body: r}, nil
}

func (s *oggSource) SampleRate() int { return s.dec.SampleRate() }
func (s *oggSource) Channels() int   { return s.dec.Channels() }
func (s *oggSource) Close() error    { return closeReader(s.body) }

// ReadSamples returns interleaved values; the decoder only emits whole frames.
func (s *oggSource) ReadSamples(dst []float32) (int, error) {
	channels := s.dec.Channels()
	if len(dst)%channels != 0 {
		return 0, pcm.ErrInvalidDstSize
	}
	if len(dst) == 0 {
		return 0, nil
	}
	n, err := s.dec.Read(dst)
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n, err
}
