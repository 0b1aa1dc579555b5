package decoder

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// maxBufferedWAV bounds how much of a non-seekable WAV stream is held in memory.
const maxBufferedWAV = 64 << 20

type wavSource struct {
	dec      *wav.Decoder
	body     io.Reader
	buf      *audio.IntBuffer
	channels int
	rate     int
	scale    float32
}

func openWAV(r io.Reader) (*wavSource, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(io.LimitReader(r, maxBufferedWAV+1))
		if err != nil {
			_ = closeReader(r)
			return nil, errors.Wrap(err, "failed to buffer wav stream")
		}
		if len(data) > maxBufferedWAV {
			_ = closeReader(r)
			return nil, errors.Newf("wav stream exceeds %d bytes", maxBufferedWAV)
		}
		rs = bytes.NewReader(data)
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		_ = closeReader(r)
		return nil, errors.New("failed to open wav stream: invalid header")
	}
	if dec.WavAudioFormat != 1 {
		_ = closeReader(r)
		return nil, errors.Newf("failed to open wav stream: unsupported encoding %d", dec.WavAudioFormat)
	}
	if (dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32) || dec.NumChans == 0 {
		_ = closeReader(r)
		return nil, errors.Newf("failed to open wav stream: bit_depth=%d channels=%d", dec.BitDepth, dec.NumChans)
	}

	channels := int(dec.NumChans)
	return &wavSource{
		dec:      dec,
		body:     r,
		buf:      &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)}},
		channels: channels,
		rate:     int(dec.SampleRate),
		scale:    1 / float32(int64(1)<<(dec.BitDepth-1)),
	}, nil
}

func (s *wavSource) SampleRate() int { return s.rate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Close() error    { return closeReader(s.body) }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if len(dst)%s.channels != 0 {
		return 0, pcm.ErrInvalidDstSize
	}
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, errors.Wrap(err, "failed to decode wav samples")
	}
	n -= n % s.channels
	for i := 0; i < n; i++ {
		dst[i] = float32(s.buf.Data[i]) * s.scale
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
