package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// WAVConfig configures the WAV recording sink.
type WAVConfig struct {
	Dir    string `mapstructure:"dir" default:"recordings" validate:"required"`
	Prefix string `mapstructure:"prefix" default:"speaker" validate:"required"`
}

// WAV records every playback session to its own WAV file.
type WAV struct {
	config WAVConfig
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	enc  *wav.Encoder
	buf  *audio.IntBuffer
	asm  sampleAssembler
	last string
}

// NewWAV creates a WAV sink.
func NewWAV(settings map[string]any) (*WAV, error) {
	var cfg WAVConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	return &WAV{config: cfg, now: time.Now}, nil
}

func (w *WAV) Init(format pcm.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.config.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create recording directory")
	}
	name := fmt.Sprintf("%s-%s.wav", w.config.Prefix, w.now().Format("20060102-150405.000"))
	path := filepath.Join(w.config.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create recording file")
	}

	w.file = f
	w.enc = wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	w.buf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: format.BitDepth,
	}
	w.asm.reset()
	w.last = path
	zlog.Info().Msgf("wav sink: recording to %s format=%s", path, format)
	return nil
}

func (w *WAV) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return 0, ErrNotInitialized
	}

	w.buf.Data = w.buf.Data[:0]
	n, _ := w.asm.each(p, func(v int16) error {
		w.buf.Data = append(w.buf.Data, int(v))
		return nil
	})
	if len(w.buf.Data) == 0 {
		return n, nil
	}
	if err := w.enc.Write(w.buf); err != nil {
		return n, errors.Wrap(err, "failed to encode samples")
	}
	return n, nil
}

func (w *WAV) Deinit() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.enc == nil {
		return nil
	}
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	w.enc = nil
	w.file = nil

	if encErr != nil {
		return errors.Wrap(encErr, "failed to finalize wav header")
	}
	if fileErr != nil {
		return errors.Wrap(fileErr, "failed to close recording file")
	}
	zlog.Info().Msgf("wav sink: finished %s", w.last)
	return nil
}

// LastFile returns the path of the most recent recording.
func (w *WAV) LastFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
