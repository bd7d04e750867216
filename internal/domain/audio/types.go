// Package audio provides the classification types shared by every player.
package audio

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// AudioType is the codec of the audio a player receives.
type AudioType int

const (
	PCM AudioType = iota // Raw interleaved samples
	WAV                  // RIFF/WAVE container
	MP3                  // MPEG-1/2 layer III
)

// String returns the string representation of the audio type.
func (a AudioType) String() string {
	switch a {
	case PCM:
		return "pcm"
	case WAV:
		return "wav"
	case MP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// SourceType describes where the audio bytes come from.
type SourceType int

const (
	HTTPPull      SourceType = iota // Pipeline pulls from an HTTP URL
	FilePull                        // Pipeline pulls from a local file
	PushData                        // Caller pushes buffers
	WebSocketPush                   // Streaming client pushes buffers
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	switch s {
	case HTTPPull:
		return "http"
	case FilePull:
		return "file"
	case PushData:
		return "data"
	case WebSocketPush:
		return "websocket"
	default:
		return "unknown"
	}
}

// IsPush reports whether the player itself feeds the pipeline.
func (s SourceType) IsPush() bool {
	return s == PushData || s == WebSocketPush
}

// PlayMode selects the mixer path of a player.
type PlayMode int

const (
	System PlayMode = iota // System sounds
	App                    // Application speech (TTS)
)

// String returns the string representation of the play mode.
func (m PlayMode) String() string {
	switch m {
	case System:
		return "system"
	case App:
		return "app"
	default:
		return "unknown"
	}
}

// ParseAudioType parses "pcm", "wav" or "mp3".
func ParseAudioType(s string) (AudioType, error) {
	switch strings.ToLower(s) {
	case "pcm":
		return PCM, nil
	case "wav":
		return WAV, nil
	case "mp3":
		return MP3, nil
	}
	return 0, errors.Newf("unknown audio type: %q", s)
}

// ParseSourceType parses "http", "file", "data" or "websocket".
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(s) {
	case "http", "httpsrc":
		return HTTPPull, nil
	case "file", "filesrc":
		return FilePull, nil
	case "data":
		return PushData, nil
	case "websocket", "ws":
		return WebSocketPush, nil
	}
	return 0, errors.Newf("unknown source type: %q", s)
}

// ParsePlayMode parses "system" or "app".
func ParsePlayMode(s string) (PlayMode, error) {
	switch strings.ToLower(s) {
	case "system":
		return System, nil
	case "app", "tts":
		return App, nil
	}
	return 0, errors.Newf("unknown play mode: %q", s)
}
