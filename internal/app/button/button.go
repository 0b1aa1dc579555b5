// Package button dispatches front-panel button presses to the media player.
package button

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ID identifies a button.
type ID int

const (
	Rec ID = iota
	Set
	Play
	Mode
	VolUp
	VolDown
)

var names = map[ID]string{
	Rec:     "rec",
	Set:     "set",
	Play:    "play",
	Mode:    "mode",
	VolUp:   "volup",
	VolDown: "voldown",
}

// ErrUnknownButton is returned for ids outside the known set.
var ErrUnknownButton = errors.New("unknown button")

func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return "unknown"
}

// ParseID parses a button name such as "mode" or "volup".
func ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, n := range names {
		if n == s {
			return id, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownButton, "name=%q", s)
}

// PlaybackController is what the buttons act on.
type PlaybackController interface {
	PlayURL(url string) error
	VolumeUp() int
	VolumeDown() int
	HandleModeButton() error
}

// Handler debounces presses per button and dispatches accepted ones.
type Handler struct {
	ctrl         PlaybackController
	debounce     time.Duration
	modeDebounce time.Duration
	now          func() time.Time

	mu        sync.Mutex
	lastPress map[ID]time.Time
}

// NewHandler creates a handler. Presses of a button closer together than its
// debounce window are dropped; the mode button uses modeDebounce.
func NewHandler(ctrl PlaybackController, debounce, modeDebounce time.Duration) *Handler {
	return &Handler{
		ctrl:         ctrl,
		debounce:     debounce,
		modeDebounce: modeDebounce,
		now:          time.Now,
		lastPress:    make(map[ID]time.Time),
	}
}

// Handle processes one press. It reports whether the press was accepted.
func (h *Handler) Handle(id ID) (bool, error) {
	if _, ok := names[id]; !ok {
		zlog.Warn().Msgf("button: unhandled button event id=%d", id)
		return false, errors.Wrapf(ErrUnknownButton, "id=%d", id)
	}

	window := h.debounce
	if id == Mode {
		window = h.modeDebounce
	}

	h.mu.Lock()
	now := h.now()
	last, seen := h.lastPress[id]
	if seen && now.Sub(last) <= window {
		h.mu.Unlock()
		zlog.Debug().Msgf("button: %s press debounced", id)
		return false, nil
	}
	h.lastPress[id] = now
	h.mu.Unlock()

	zlog.Info().Msgf("button: %s pressed", id)
	switch id {
	case VolUp:
		h.ctrl.VolumeUp()
	case VolDown:
		h.ctrl.VolumeDown()
	case Mode:
		if err := h.ctrl.HandleModeButton(); err != nil {
			return true, errors.Wrap(err, "mode button")
		}
	case Rec, Set, Play:
		zlog.Info().Msgf("button: %s has no action", id)
	}
	return true, nil
}
