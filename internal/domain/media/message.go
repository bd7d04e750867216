package media

import "time"

// MessageType identifies a bus message.
type MessageType int

const (
	MessageError           MessageType = iota // An element failed
	MessageWarning                            // An element reported a recoverable problem
	MessageEOS                                // Stream ended
	MessageDurationChanged                    // Duration became known or changed
	MessageStateChanged                       // An element or the pipeline changed state
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageEOS:
		return "eos"
	case MessageDurationChanged:
		return "duration-changed"
	case MessageStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Message is posted on a bus by a pipeline or one of its elements.
type Message struct {
	Type MessageType

	// Source is the name of the posting element, or the pipeline id.
	Source string
	// FromPipeline is true when the pipeline itself posted the message.
	FromPipeline bool

	// Error and Warning payload
	Err   error
	Debug string

	// StateChanged payload
	OldState State
	NewState State
	Pending  State

	// DurationChanged payload
	Duration time.Duration
}

// Element names used by pipeline backends; error classification relies on them.
const (
	ElementHTTPSource = "httpsrc"
	ElementFileSource = "filesrc"
	ElementAppSource  = "appsrc"
	ElementCapsFilter = "capsfilter"
	ElementWavParse   = "wavparse"
	ElementMP3Parse   = "mpegaudioparse"
	ElementMP3Decode  = "mp3dec"
	ElementConvert    = "audioconvert"
	ElementResample   = "audioresample"
	ElementSink       = "audiosink"
)
