// Package playback provides the per-instance player: pipeline lifecycle,
// push feeding and the state machine that turns bus messages into playback
// events.
package playback

// State represents the playback state.
type State int

const (
	StateReady         State = iota // Idle: initial, after stop and after end of stream
	StatePlaying                    // Pipeline is playing
	StatePaused                     // Pipeline is paused (by the caller or while prerolling)
	StatePlaybackError              // Pipeline failed; cleared by Stop or Play
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StatePlaybackError:
		return "playback_error"
	default:
		return "unknown"
	}
}
