// Package media implements the media player entity that streams URLs into
// the speaker.
package media

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/app/speaker"
	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// Errors
var (
	ErrBusy          = errors.New("playback already in progress")
	ErrNotPlaying    = errors.New("nothing is playing")
	ErrInvalidVolume = errors.New("volume must be between 0 and 100")
	ErrNoDefaultURL  = errors.New("no default url configured")
	ErrChannelLayout = errors.New("unsupported channel layout")
)

// Speaker is the playback core the player feeds.
type Speaker interface {
	Play(data []byte) int
	Stop()
	State() speaker.State
}

// OpenFunc opens a URL as a decoded sample source.
type OpenFunc func(ctx context.Context, url string) (pcm.Source, error)

// Options holds player configuration.
type Options struct {
	DefaultURL    string
	InitialVolume int           // 0..100
	VolumeStep    int           // Change applied by VolumeUp and VolumeDown
	Format        pcm.Format    // Format the speaker plays
	ChunkFrames   int           // Frames decoded per chunk
	RetryInterval time.Duration // Wait before offering rejected bytes to the speaker again
}

// DefaultOptions returns the player defaults for the given speaker format.
func DefaultOptions(format pcm.Format) Options {
	return Options{
		InitialVolume: 50,
		VolumeStep:    10,
		Format:        format,
		ChunkFrames:   speaker.MaxFrameBytes / format.FrameSize(),
		RetryInterval: 16 * time.Millisecond,
	}
}

// Status is a snapshot of the player.
type Status struct {
	URL       string
	Playing   bool
	Paused    bool
	Volume    int
	LastError string
}

type feed struct {
	url    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Player streams one URL at a time into the speaker.
type Player struct {
	spk  Speaker
	open OpenFunc
	opts Options

	mu        sync.Mutex
	volume    int
	feed      *feed
	resume    chan struct{} // Non-nil while paused
	lastErr   error
	listeners []func(Status)
}

// NewPlayer creates a player.
func NewPlayer(spk Speaker, open OpenFunc, opts Options) *Player {
	return &Player{
		spk:    spk,
		open:   open,
		opts:   opts,
		volume: clampVolume(opts.InitialVolume),
	}
}

// OnStatusChange registers a callback invoked after every status change.
func (p *Player) OnStatusChange(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Status returns a snapshot of the player.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

// PlayURL starts streaming url. A request made while a stream is feeding or
// the speaker has not yet reached STOPPED is ignored and reported as ErrBusy.
// A stop sentinel still queued would otherwise discard the new stream's
// opening frames.
func (p *Player) PlayURL(url string) error {
	p.mu.Lock()
	if p.busyLocked() {
		p.mu.Unlock()
		zlog.Info().Msgf("media: ignoring play request while busy: url=%s", url)
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{url: url, cancel: cancel, done: make(chan struct{})}
	p.feed = f
	p.resume = nil
	p.lastErr = nil
	p.mu.Unlock()

	zlog.Info().Msgf("media: playing url=%s", url)
	p.notify()
	go p.run(ctx, f)
	return nil
}

// Stop ends the current stream and stops the speaker.
func (p *Player) Stop() {
	p.mu.Lock()
	f := p.feed
	p.mu.Unlock()

	if f != nil {
		f.cancel()
		<-f.done
	}
	p.spk.Stop()
	p.notify()
}

// Pause stops feeding the speaker; the speaker session ends on its idle timeout.
func (p *Player) Pause() error {
	p.mu.Lock()
	if p.feed == nil {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	if p.resume != nil {
		p.mu.Unlock()
		return nil
	}
	p.resume = make(chan struct{})
	p.mu.Unlock()

	zlog.Info().Msg("media: paused")
	p.notify()
	return nil
}

// Resume continues a paused stream.
func (p *Player) Resume() error {
	p.mu.Lock()
	if p.feed == nil {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	if p.resume == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.resume)
	p.resume = nil
	p.mu.Unlock()

	zlog.Info().Msg("media: resumed")
	p.notify()
	return nil
}

// VolumeUp raises the volume by one step, saturating at 100.
func (p *Player) VolumeUp() int {
	return p.adjustVolume(p.opts.VolumeStep)
}

// VolumeDown lowers the volume by one step, saturating at 0.
func (p *Player) VolumeDown() int {
	return p.adjustVolume(-p.opts.VolumeStep)
}

// SetVolume sets the volume in percent.
func (p *Player) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return errors.Wrapf(ErrInvalidVolume, "got %d", v)
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()

	zlog.Info().Msgf("media: volume set to %d", v)
	p.notify()
	return nil
}

// Volume returns the volume in percent.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// HandleModeButton toggles between the default URL and silence.
func (p *Player) HandleModeButton() error {
	p.mu.Lock()
	busy := p.busyLocked()
	p.mu.Unlock()

	if busy {
		zlog.Info().Msg("media: mode button stops playback")
		p.Stop()
		return nil
	}
	if p.opts.DefaultURL == "" {
		zlog.Warn().Msg("media: mode button pressed but no default url configured")
		return ErrNoDefaultURL
	}
	return p.PlayURL(p.opts.DefaultURL)
}

// Wait blocks until the current stream ends.
func (p *Player) Wait() {
	p.mu.Lock()
	f := p.feed
	p.mu.Unlock()
	if f != nil {
		<-f.done
	}
}

func (p *Player) adjustVolume(delta int) int {
	p.mu.Lock()
	p.volume = clampVolume(p.volume + delta)
	v := p.volume
	p.mu.Unlock()

	zlog.Info().Msgf("media: volume=%d", v)
	p.notify()
	return v
}

// run decodes the stream and pushes PCM into the speaker until EOF, an error
// or cancellation.
func (p *Player) run(ctx context.Context, f *feed) {
	err := p.stream(ctx, f.url)

	p.mu.Lock()
	if p.feed == f {
		p.feed = nil
		p.resume = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.lastErr = err
	}
	p.mu.Unlock()
	close(f.done)

	switch {
	case err == nil:
		zlog.Info().Msgf("media: finished url=%s", f.url)
	case errors.Is(err, context.Canceled):
		zlog.Debug().Msgf("media: cancelled url=%s", f.url)
	default:
		zlog.Error().Msgf("media: playback failed: url=%s err=%v", f.url, err)
	}
	p.notify()
}

func (p *Player) stream(ctx context.Context, url string) error {
	src, err := p.open(ctx, url)
	if err != nil {
		return errors.Wrap(err, "failed to open media")
	}
	defer src.Close()

	pipe, err := p.pipeline(src)
	if err != nil {
		return err
	}

	buf := make([]float32, p.opts.ChunkFrames*pipe.Channels())
	var out []byte
	for {
		if err := p.waitResumed(ctx); err != nil {
			return err
		}

		n, readErr := pipe.ReadSamples(buf)
		if n > 0 {
			out = pcm.EncodeInt16LE(out, buf[:n], p.gain())
			if err := p.push(ctx, out); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return errors.Wrap(readErr, "failed to decode media")
		}
	}
}

// pipeline adapts src to the speaker's channel count and sample rate.
func (p *Player) pipeline(src pcm.Source) (pcm.Source, error) {
	var out pcm.Source = src
	switch want := p.opts.Format.Channels; {
	case want == src.Channels():
	case want == 1:
		out = pcm.NewMonoMixer(out)
	default:
		return nil, errors.Wrapf(ErrChannelLayout, "source has %d channels, speaker wants %d", src.Channels(), want)
	}
	if out.SampleRate() != p.opts.Format.SampleRate {
		zlog.Debug().Msgf("media: resampling %dHz -> %dHz", out.SampleRate(), p.opts.Format.SampleRate)
		out = pcm.NewResampler(out, p.opts.Format.SampleRate)
	}
	return out, nil
}

// push offers data to the speaker until all of it is accepted. A short count
// means the frame queue is full; the remainder is retried after RetryInterval.
func (p *Player) push(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		n := p.spk.Play(data)
		data = data[n:]
		if len(data) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.opts.RetryInterval):
		}
	}
	return nil
}

func (p *Player) waitResumed(ctx context.Context) error {
	p.mu.Lock()
	ch := p.resume
	p.mu.Unlock()

	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) gain() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float32(p.volume) / 100
}

func (p *Player) busyLocked() bool {
	return p.feed != nil || p.spk.State() != speaker.StateStopped
}

func (p *Player) statusLocked() Status {
	st := Status{Volume: p.volume, Paused: p.resume != nil}
	if p.feed != nil {
		st.URL = p.feed.url
		st.Playing = true
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

func (p *Player) notify() {
	p.mu.Lock()
	st := p.statusLocked()
	listeners := p.listeners
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func clampVolume(v int) int {
	return max(0, min(100, v))
}
