package pcm

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Resampler converts src to a target sample rate using linear interpolation
// between neighbouring frames. Channel count is preserved.
type Resampler struct {
	src      Source
	dstRate  int
	step     float64 // Source frames advanced per output frame
	channels int

	prev, next []float32 // Frames at floor(pos) and floor(pos)+1
	pos        float64   // Fractional position between prev and next
	primed     bool
	eof        bool
	srcBuf     []float32
}

// NewResampler wraps src so that it produces dstRate samples per second.
func NewResampler(src Source, dstRate int) *Resampler {
	channels := src.Channels()
	return &Resampler{
		src:      src,
		dstRate:  dstRate,
		step:     float64(src.SampleRate()) / float64(dstRate),
		channels: channels,
		prev:     make([]float32, channels),
		next:     make([]float32, channels),
		srcBuf:   make([]float32, channels),
	}
}

func (r *Resampler) SampleRate() int { return r.dstRate }
func (r *Resampler) Channels() int   { return r.channels }
func (r *Resampler) Close() error    { return r.src.Close() }

// readFrame reads exactly one source frame into dst.
func (r *Resampler) readFrame(dst []float32) error {
	got := 0
	for got < r.channels {
		n, err := r.src.ReadSamples(r.srcBuf[got:])
		got += n
		if err != nil {
			if got < r.channels {
				return err
			}
			break
		}
	}
	copy(dst, r.srcBuf)
	return nil
}

// advance shifts next into prev and reads a new next frame.
func (r *Resampler) advance() error {
	copy(r.prev, r.next)
	if r.eof {
		return io.EOF
	}
	if err := r.readFrame(r.next); err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			copy(r.next, r.prev)
			return nil
		}
		return err
	}
	return nil
}

func (r *Resampler) ReadSamples(dst []float32) (int, error) {
	if len(dst)%r.channels != 0 {
		return 0, ErrInvalidDstSize
	}
	if r.step == 1 {
		return r.src.ReadSamples(dst)
	}

	if !r.primed {
		if err := r.readFrame(r.prev); err != nil {
			return 0, err
		}
		if err := r.readFrame(r.next); err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, err
			}
			r.eof = true
			copy(r.next, r.prev)
		}
		r.primed = true
	}

	written := 0
	for written+r.channels <= len(dst) {
		for r.pos >= 1 {
			if err := r.advance(); err != nil {
				if written == 0 {
					return 0, err
				}
				return written, nil
			}
			r.pos--
		}

		t := float32(r.pos)
		for c := 0; c < r.channels; c++ {
			dst[written+c] = r.prev[c] + (r.next[c]-r.prev[c])*t
		}
		written += r.channels
		r.pos += r.step
	}
	return written, nil
}
