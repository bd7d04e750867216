package playback

// EventType represents a playback event type.
type EventType int

const (
	EventPlaybackStarted  EventType = iota // First audio reached the pipeline
	EventPlaybackFinished                  // End of stream
	EventPlaybackPaused                    // Caller-initiated pause took effect
	EventPlaybackResumed                   // Caller-initiated resume took effect
	EventNetworkError                      // Network source failed
	EventPlaybackError                     // Any other pipeline failure
	EventNeedData                          // Push queue ran dry after playback started
)

// String returns the wire name of the event.
func (e EventType) String() string {
	switch e {
	case EventPlaybackStarted:
		return "PLAYBACK_STARTED"
	case EventPlaybackFinished:
		return "PLAYBACK_FINISHED"
	case EventPlaybackPaused:
		return "PLAYBACK_PAUSED"
	case EventPlaybackResumed:
		return "PLAYBACK_RESUMED"
	case EventNetworkError:
		return "NETWORK_ERROR"
	case EventPlaybackError:
		return "PLAYBACK_ERROR"
	case EventNeedData:
		return "NEED_DATA"
	default:
		return "UNKNOWN"
	}
}

// EventSink receives playback events. Implementations must not block.
type EventSink interface {
	OnEvent(objectID int, event EventType)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(objectID int, event EventType)

// OnEvent calls f.
func (f EventSinkFunc) OnEvent(objectID int, event EventType) {
	f(objectID, event)
}
