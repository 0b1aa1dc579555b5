// Package speaker provides the streaming playback core: a bounded frame queue
// drained by a consumer task that owns the hardware sink, and the state
// machine that starts, stops and reconciles that task on every scheduler tick.
package speaker

// State represents the speaker lifecycle state.
type State int

const (
	StateStopped  State = iota // No consumer task, sink released
	StateStarting              // Start requested, waiting for the lock or the task to report STARTED
	StateRunning               // Consumer task is draining frames into the sink
	StateStopping              // Stop sentinel sent, waiting for the task to report STOPPED
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether the speaker is starting or running.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning
}
