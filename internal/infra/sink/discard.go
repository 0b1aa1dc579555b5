package sink

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// DiscardConfig configures the discard sink.
type DiscardConfig struct {
	Realtime bool `mapstructure:"realtime" default:"false"`
}

// Discard drops audio, optionally pacing writes at the real playback rate so
// that the pipeline behaves like a hardware output.
type Discard struct {
	config DiscardConfig

	mu       sync.Mutex
	format   pcm.Format
	active   bool
	total    int64
	sessions int
}

// NewDiscard creates a discard sink.
func NewDiscard(settings map[string]any) (*Discard, error) {
	var cfg DiscardConfig
	if err := decodeSettings(settings, &cfg); err != nil {
		return nil, err
	}
	return &Discard{config: cfg}, nil
}

func (d *Discard) Init(format pcm.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = format
	d.active = true
	d.sessions++
	zlog.Debug().Msgf("discard sink: init format=%s realtime=%v", format, d.config.Realtime)
	return nil
}

func (d *Discard) Write(p []byte) (int, error) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return 0, ErrNotInitialized
	}
	d.total += int64(len(p))
	bps := d.format.BytesPerSecond()
	d.mu.Unlock()

	if d.config.Realtime && bps > 0 {
		time.Sleep(time.Duration(len(p)) * time.Second / time.Duration(bps))
	}
	return len(p), nil
}

func (d *Discard) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	zlog.Debug().Msgf("discard sink: deinit total_bytes=%d", d.total)
	return nil
}

// Bytes returns the number of bytes written across all sessions.
func (d *Discard) Bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Sessions returns how many times the sink was initialized.
func (d *Discard) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions
}
