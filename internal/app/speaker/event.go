package speaker

// EventType represents a consumer task lifecycle event type.
type EventType int

const (
	EventStarting EventType = iota // Task began, sink not yet initialized
	EventStarted                   // Sink initialized, output enabled
	EventRunning                   // A frame was written to the sink
	EventStopping                  // Loop exited, sink being torn down
	EventStopped                   // Task finished, lock may be released
	EventWarning                   // Non-fatal failure, Err is set
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarting:
		return "starting"
	case EventStarted:
		return "started"
	case EventRunning:
		return "running"
	case EventStopping:
		return "stopping"
	case EventStopped:
		return "stopped"
	case EventWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is a notification sent from the consumer task to the state machine.
type Event struct {
	Type    EventType
	Err     error  // Only set for EventWarning
	Session string // Session that emitted the event
}
