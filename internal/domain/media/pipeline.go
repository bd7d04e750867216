package media

import (
	"time"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// Bus receives messages from pipelines. Post must not block.
type Bus interface {
	Post(pipelineID string, msg Message)
}

// PushInput is the entry point of a push-source pipeline.
type PushInput interface {
	SetCaps(format audio.PCMFormat) error
	Push(chunk []byte) error
}

// Pipeline is a linked media pipeline.
type Pipeline interface {
	ID() string
	SetState(target State) StateChangeReturn
	// GetState returns the current and pending state, waiting up to timeout
	// for an asynchronous change to complete.
	GetState(timeout time.Duration) (current, pending State)
	SetLocation(locator string) error
	// SetCaps updates the caps filter or push input caps.
	SetCaps(format audio.PCMFormat) error
	// PushInput returns nil for pull sources.
	PushInput() PushInput
	// SetVolume sets the stream volume in the range [0, 1].
	SetVolume(volume float64)
	QueryDuration() (time.Duration, bool)
	// Describe returns a diagnostic snapshot of the element graph.
	Describe() string
	Close() error
}

// Builder constructs pipelines. A link failure returns an error and no pipeline.
type Builder interface {
	Build(topology Topology, bus Bus) (Pipeline, error)
}

// Handler handles the messages of one pipeline.
type Handler func(msg Message)

// Watcher routes bus messages to per-pipeline handlers.
type Watcher interface {
	Watch(pipelineID string, h Handler)
	Unwatch(pipelineID string)
}
