package decoder

import (
	"io"

	"github.com/cockroachdb/errors"
	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// go-mp3 always produces 16-bit little-endian stereo.
const mp3Channels = 2

type mp3Reader interface {
	Read([]byte) (int, error)
	SampleRate() int
}

type mp3Source struct {
	dec  mp3Reader
	body io.Reader
	buf  []byte
}

func openMP3(r io.Reader) (*mp3Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		_ = closeReader(r)
		return nil, errors.Wrap(err, "failed to open mp3 stream")
	}
	return &mp3Source{dec: dec, body: r}, nil
}

func (s *mp3Source) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Source) Channels() int   { return mp3Channels }
func (s *mp3Source) Close() error    { return closeReader(s.body) }

func (s *mp3Source) ReadSamples(dst []float32) (int, error) {
	if len(dst)%mp3Channels != 0 {
		return 0, pcm.ErrInvalidDstSize
	}
	if len(dst) == 0 {
		return 0, nil
	}
	need := len(dst) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]

	n, err := io.ReadFull(s.dec, s.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	n -= n % (2 * mp3Channels)
	for i := 0; i < n/2; i++ {
		v := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return n / 2, err
}
