package speaker

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// runTask is the consumer. It owns the sink from STARTING until STOPPED and
// returns once the session ends; all failures travel through the event channel.
func (s *Speaker) runTask(ctx context.Context, t *task) {
	defer close(t.done)

	s.emit(ctx, t, Event{Type: EventStarting}, true)

	if err := s.sink.Init(s.opts.Format); err != nil {
		zlog.Error().Msgf("%s: failed to initialize sink: %v", s.opts.Name, err)
		s.emit(ctx, t, Event{Type: EventWarning, Err: errors.Wrap(err, "failed to initialize sink")}, true)
		s.emit(ctx, t, Event{Type: EventStopped}, true)
		return
	}
	if ctx.Err() != nil {
		// Abandoned while the sink was initializing. The lock is still ours
		// until this goroutine returns.
		_ = s.sink.Deinit()
		return
	}

	s.emit(ctx, t, Event{Type: EventStarted}, true)
	s.setOutput(true)

	s.drain(ctx, t)

	s.emit(ctx, t, Event{Type: EventStopping}, true)
	if err := s.sink.Deinit(); err != nil {
		zlog.Warn().Msgf("%s: failed to deinitialize sink: %v", s.opts.Name, err)
	}
	s.setOutput(false)
	s.emit(ctx, t, Event{Type: EventStopped}, true)
}

// drain moves frames from the queue to the sink until a stop sentinel, the
// idle timeout or cancellation.
func (s *Speaker) drain(ctx context.Context, t *task) {
	var f Frame
	lastReceived := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		if !s.queue.TryPop(&f) {
			idle := time.Since(lastReceived)
			if idle >= s.opts.IdleTimeout {
				zlog.Debug().Msgf("%s: idle for %v, stopping session %s", s.opts.Name, idle, t.session)
				return
			}
			timer := time.NewTimer(s.opts.IdleTimeout - idle)
			select {
			case <-s.queue.Ready():
			case <-timer.C:
			case <-ctx.Done():
			}
			timer.Stop()
			continue
		}

		if f.Stop {
			n := s.queue.Discard()
			zlog.Debug().Msgf("%s: stop received, discarded %d queued frames", s.opts.Name, n)
			return
		}

		s.write(ctx, t, f.Payload())
		lastReceived = time.Now()
		s.emit(ctx, t, Event{Type: EventRunning}, false)
	}
}

// write pushes p to the sink, resuming after partial writes. A failed write is
// reported and retried; only cancellation or a pending stop abandons the frame.
func (s *Speaker) write(ctx context.Context, t *task, p []byte) {
	for len(p) > 0 {
		n, err := s.sink.Write(p)
		if n > 0 {
			p = p[min(n, len(p)):]
		}
		if n == 0 && err == nil {
			err = io.ErrShortWrite
		}
		if err == nil {
			continue
		}

		s.emit(ctx, t, Event{Type: EventWarning, Err: err}, false)
		if s.queue.StopPending() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.WriteRetryDelay):
		}
	}
}

// emit sends ev to the state machine. Blocking sends wait for room unless the
// task is cancelled; non-blocking sends drop the event when the channel is full.
func (s *Speaker) emit(ctx context.Context, t *task, ev Event, block bool) {
	ev.Session = t.session
	if !block {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Speaker) setOutput(enabled bool) {
	if s.enable == nil {
		return
	}
	if err := s.enable.SetEnabled(enabled); err != nil {
		zlog.Warn().Msgf("%s: failed to set output enable to %v: %v", s.opts.Name, enabled, err)
	}
}
