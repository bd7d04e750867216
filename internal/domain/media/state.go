// Package media defines the contract between players and a media pipeline backend.
package media

// State is the lifecycle state of a pipeline.
type State int

const (
	StateNull    State = iota // No resources allocated
	StateReady                // Configured, source closed
	StatePaused               // Prerolled, data flow gated
	StatePlaying              // Data flowing to the sink
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "VOID_PENDING"
	}
}

// StateChangeReturn is the result of a state change request.
type StateChangeReturn int

const (
	StateChangeSuccess StateChangeReturn = iota // Reached the target state
	StateChangeAsync                            // Target state will be reached later
	StateChangeFailure                          // An element refused the change
)

// String returns the string representation of the return value.
func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeSuccess:
		return "success"
	case StateChangeAsync:
		return "async"
	case StateChangeFailure:
		return "failure"
	default:
		return "unknown"
	}
}
