//go:build cgo

package sink

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gordonklaus/portaudio"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// PortAudio plays through the default output device using blocking writes.
type PortAudio struct {
	config PortAudioConfig

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	fill   int
	asm    sampleAssembler
}

func newPortAudio(cfg PortAudioConfig) (Sink, error) {
	return &PortAudio{config: cfg}, nil
}

func (p *PortAudio) Init(format pcm.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return errors.Wrap(err, "failed to initialize portaudio")
	}
	p.buf = make([]int16, p.config.FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), p.config.FramesPerBuffer, p.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return errors.Wrap(err, "failed to open output stream")
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return errors.Wrap(err, "failed to start output stream")
	}

	p.stream = stream
	p.fill = 0
	p.asm.reset()
	zlog.Info().Msgf("portaudio sink: stream started format=%s frames_per_buffer=%d", format, p.config.FramesPerBuffer)
	return nil
}

// Write blocks while full device buffers are played. Bytes are reported as
// consumed once copied into the device buffer, even if that buffer later fails.
func (p *PortAudio) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return 0, ErrNotInitialized
	}
	return p.asm.each(data, func(v int16) error {
		p.buf[p.fill] = v
		p.fill++
		if p.fill < len(p.buf) {
			return nil
		}
		p.fill = 0
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return errors.Wrap(err, "failed to write to output stream")
		}
		return nil
	})
}

// Deinit plays out the partial buffer padded with silence and closes the device.
func (p *PortAudio) Deinit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if p.fill > 0 {
		clear(p.buf[p.fill:])
		if err := p.stream.Write(); err != nil {
			zlog.Warn().Msgf("portaudio sink: failed to flush final buffer: %v", err)
		}
		p.fill = 0
	}

	var errs error
	if err := p.stream.Stop(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to stop output stream"))
	}
	if err := p.stream.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to close output stream"))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to terminate portaudio"))
	}
	p.stream = nil
	zlog.Info().Msg("portaudio sink: stream closed")
	return errs
}
