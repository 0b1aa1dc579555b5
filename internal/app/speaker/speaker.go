package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/adfspeaker/internal/domain/pcm"
)

// Errors
var (
	ErrSetupFailed  = errors.New("speaker setup failed")
	ErrStartTimeout = errors.New("consumer task did not report started in time")
)

// Sink is the hardware audio output driven by the consumer task.
// Write blocks until at least part of p is accepted and may return a short count.
type Sink interface {
	Init(format pcm.Format) error
	Write(p []byte) (int, error)
	Deinit() error
}

// OutputEnable drives the amplifier enable line.
type OutputEnable interface {
	SetEnabled(enabled bool) error
}

// Lock guards exclusive ownership of the physical audio output.
// *sync.Mutex satisfies it.
type Lock interface {
	TryLock() bool
	Unlock()
}

// Options holds speaker configuration.
type Options struct {
	Name            string        // Used in log messages
	QueueCapacity   int           // Frames buffered between Play and the consumer
	EventCapacity   int           // Lifecycle events buffered between the consumer and Loop
	IdleTimeout     time.Duration // Consumer exits after this long without a frame
	StartTimeout    time.Duration // Spawned task must report STARTED within this; 0 disables
	WriteRetryDelay time.Duration // Pause between retries of a failed sink write
	Format          pcm.Format    // Format the sink is initialized with
}

// DefaultOptions returns the reference configuration: 50 frames, 20 events,
// 500ms idle timeout, 16kHz mono 16-bit.
func DefaultOptions() Options {
	return Options{
		Name:            "speaker",
		QueueCapacity:   50,
		EventCapacity:   20,
		IdleTimeout:     500 * time.Millisecond,
		StartTimeout:    5 * time.Second,
		WriteRetryDelay: 10 * time.Millisecond,
		Format:          pcm.Format{SampleRate: 16000, BitDepth: 16, Channels: 1},
	}
}

// Status is a snapshot of the speaker.
type Status struct {
	State       State
	Failed      bool
	Warning     bool
	LastWarning string
	Buffered    int // Frames waiting in the queue
	Session     string
}

// task is the handle of a spawned consumer.
type task struct {
	session   string
	spawnedAt time.Time
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Speaker owns the playback state machine. Start, Stop, Play and Loop may be
// called from any goroutine; frames are drained by a consumer goroutine that
// exists only while the hardware lock is held.
type Speaker struct {
	mu sync.Mutex

	state     State
	failed    bool
	warning   error
	task      *task
	abandoned *task // Timed-out task that still owns the lock until it exits

	queue  *FrameQueue
	events chan Event

	lock   Lock
	sink   Sink
	enable OutputEnable
	opts   Options

	listeners []func(Status)

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a speaker. Setup must be called before Play.
func New(lock Lock, sink Sink, enable OutputEnable, opts Options) *Speaker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Speaker{
		state:  StateStopped,
		lock:   lock,
		sink:   sink,
		enable: enable,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Setup allocates the frame queue and event channel. A failure marks the
// speaker permanently failed and every later Play accepts nothing.
func (s *Speaker) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.QueueCapacity <= 0 || s.opts.EventCapacity <= 0 {
		s.failed = true
		return errors.Wrapf(ErrSetupFailed, "invalid capacities: queue=%d events=%d",
			s.opts.QueueCapacity, s.opts.EventCapacity)
	}
	if s.lock == nil || s.sink == nil {
		s.failed = true
		return errors.Wrap(ErrSetupFailed, "lock and sink are required")
	}

	s.queue = NewFrameQueue(s.opts.QueueCapacity)
	s.events = make(chan Event, s.opts.EventCapacity)
	zlog.Info().Msgf("%s: setup complete: queue=%d events=%d format=%s",
		s.opts.Name, s.opts.QueueCapacity, s.opts.EventCapacity, s.opts.Format)
	return nil
}

// OnStatusChange registers a callback invoked after the state or warning
// flag changes. Callbacks run without the speaker lock held.
func (s *Speaker) OnStatusChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start requests playback. Only a stopped speaker moves to STARTING; the
// consumer is spawned by a later Loop once the hardware lock is free.
func (s *Speaker) Start() {
	s.update(func() {
		s.startLocked()
	})
}

func (s *Speaker) startLocked() {
	if s.state == StateStopped {
		s.state = StateStarting
	}
}

// Stop requests the end of the session. Without a consumer the speaker stops
// immediately and drops buffered frames; otherwise a stop sentinel is placed
// at the front of the queue and the consumer reports STOPPED when done.
func (s *Speaker) Stop() {
	s.update(func() {
		switch s.state {
		case StateStopped, StateStopping:
			return
		case StateStarting:
			if s.task == nil {
				n := 0
				if s.queue != nil {
					n = s.queue.Discard()
				}
				zlog.Debug().Msgf("%s: stopped before start: dropped_frames=%d", s.opts.Name, n)
				s.state = StateStopped
				return
			}
		}

		s.state = StateStopping
		s.queue.PushFront(&Frame{Stop: true})
	})
}

// Play queues data for playback and returns the number of bytes accepted.
// It never blocks: when the queue fills up it returns a short count and the
// caller retries the remainder later.
func (s *Speaker) Play(data []byte) int {
	var accepted int
	s.update(func() {
		if s.failed || s.queue == nil {
			zlog.Error().Msgf("%s: failed to play audio, speaker is in failed state", s.opts.Name)
			return
		}
		if !s.state.Active() {
			s.startLocked()
		}

		var f Frame
		for accepted < len(data) {
			n := copy(f.Data[:], data[accepted:])
			f.Len = n
			if !s.queue.TryPush(&f) {
				return
			}
			accepted += n
		}
	})
	return accepted
}

// HasBufferedData reports whether frames are waiting in the queue.
func (s *Speaker) HasBufferedData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue != nil && s.queue.Len() > 0
}

// State returns the current speaker state.
func (s *Speaker) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the speaker.
func (s *Speaker) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Loop is the scheduler tick. It reconciles pending lifecycle events and,
// while STARTING, tries to take the hardware lock and spawn the consumer.
func (s *Speaker) Loop() {
	s.update(func() {
		s.watchLocked()
		s.reapLocked()

		switch s.state {
		case StateStarting:
			s.spawnLocked()
		case StateRunning, StateStopping, StateStopped:
		}
	})
}

// Run calls Loop every interval until ctx is cancelled.
func (s *Speaker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Loop()
		}
	}
}

// Close stops the session and waits up to timeout for the consumer to exit.
func (s *Speaker) Close(timeout time.Duration) {
	s.Stop()

	deadline := time.Now().Add(timeout)
	for {
		s.Loop()
		s.mu.Lock()
		idle := s.task == nil && s.abandoned == nil
		s.mu.Unlock()
		if idle {
			break
		}
		if time.Now().After(deadline) {
			zlog.Warn().Msgf("%s: consumer task did not stop within %v", s.opts.Name, timeout)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.cancel()
}

// watchLocked drains the event channel without blocking.
func (s *Speaker) watchLocked() {
	if s.events == nil {
		return
	}
	for {
		select {
		case ev := <-s.events:
			s.handleEventLocked(ev)
		default:
			return
		}
	}
}

func (s *Speaker) handleEventLocked(ev Event) {
	if s.task == nil || ev.Session != s.task.session {
		zlog.Debug().Msgf("%s: ignoring event from stale session: type=%s session=%s", s.opts.Name, ev.Type, ev.Session)
		return
	}

	switch ev.Type {
	case EventStarting, EventStopping:
	case EventStarted:
		s.task.started = true
		if s.state == StateStarting {
			s.state = StateRunning
		}
	case EventRunning:
		s.warning = nil
	case EventStopped:
		s.releaseLocked()
		if n := s.queue.DiscardStops(); n > 0 {
			zlog.Debug().Msgf("%s: dropped %d unread stop sentinels", s.opts.Name, n)
		}
		s.state = StateStopped
	case EventWarning:
		zlog.Warn().Msgf("%s: error writing to sink: %v", s.opts.Name, ev.Err)
		s.warning = ev.Err
	}
}

// spawnLocked starts the consumer once the hardware lock is available, and
// abandons a consumer that never reports STARTED.
func (s *Speaker) spawnLocked() {
	if s.task != nil {
		if s.task.started || s.opts.StartTimeout <= 0 || time.Since(s.task.spawnedAt) < s.opts.StartTimeout {
			return
		}
		s.abandonLocked()
		return
	}
	if s.abandoned != nil {
		return
	}

	if !s.lock.TryLock() {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		session:   uuid.New().String(),
		spawnedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.task = t
	zlog.Debug().Msgf("%s: spawning consumer task: session=%s", s.opts.Name, t.session)
	go s.runTask(ctx, t)
}

// abandonLocked gives up on a task stuck before STARTED. The task may still be
// inside sink.Init, so it keeps the hardware lock until reapLocked sees it exit.
func (s *Speaker) abandonLocked() {
	t := s.task
	zlog.Warn().Msgf("%s: abandoning session %s: no STARTED after %v", s.opts.Name, t.session, s.opts.StartTimeout)
	t.cancel()
	s.task = nil
	s.abandoned = t
	if n := s.queue.Discard(); n > 0 {
		zlog.Debug().Msgf("%s: dropped %d frames of abandoned session", s.opts.Name, n)
	}
	s.warning = ErrStartTimeout
	s.state = StateStopped
}

// reapLocked frees the hardware lock once an abandoned task has returned.
func (s *Speaker) reapLocked() {
	if s.abandoned == nil {
		return
	}
	select {
	case <-s.abandoned.done:
	default:
		return
	}
	zlog.Debug().Msgf("%s: abandoned session %s exited", s.opts.Name, s.abandoned.session)
	s.abandoned = nil
	s.lock.Unlock()
}

// releaseLocked forgets the current task and frees the hardware lock.
func (s *Speaker) releaseLocked() {
	s.task.cancel()
	s.task = nil
	s.lock.Unlock()
}

func (s *Speaker) statusLocked() Status {
	st := Status{
		State:   s.state,
		Failed:  s.failed,
		Warning: s.warning != nil,
	}
	if s.warning != nil {
		st.LastWarning = s.warning.Error()
	}
	if s.queue != nil {
		st.Buffered = s.queue.Len()
	}
	if s.task != nil {
		st.Session = s.task.session
	}
	return st
}

// update runs fn under the lock and notifies listeners when the state or
// warning flag changed.
func (s *Speaker) update(fn func()) {
	s.mu.Lock()
	before := s.statusLocked()
	fn()
	after := s.statusLocked()
	listeners := s.listeners
	s.mu.Unlock()

	if before.State == after.State && before.Warning == after.Warning {
		return
	}
	zlog.Debug().Msgf("%s: state %s -> %s warning=%v", s.opts.Name, before.State, after.State, after.Warning)
	for _, fn := range listeners {
		fn(after)
	}
}
