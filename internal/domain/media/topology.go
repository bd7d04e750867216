package media

import (
	"strings"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// StageKind is one element of a linear pipeline.
type StageKind int

const (
	StageHTTPSource StageKind = iota
	StageFileSource
	StagePushSource
	StageCapsFilter
	StageWavParse
	StageMP3Parse
	StageMP3Decode
	StageConvert
	StageResample
	StageSink
)

// Element returns the element name a backend uses for the stage.
func (k StageKind) Element() string {
	switch k {
	case StageHTTPSource:
		return ElementHTTPSource
	case StageFileSource:
		return ElementFileSource
	case StagePushSource:
		return ElementAppSource
	case StageCapsFilter:
		return ElementCapsFilter
	case StageWavParse:
		return ElementWavParse
	case StageMP3Parse:
		return ElementMP3Parse
	case StageMP3Decode:
		return ElementMP3Decode
	case StageConvert:
		return ElementConvert
	case StageResample:
		return ElementResample
	case StageSink:
		return ElementSink
	default:
		return "unknown"
	}
}

// IsSource reports whether the stage produces data.
func (k StageKind) IsSource() bool {
	return k == StageHTTPSource || k == StageFileSource || k == StagePushSource
}

// Topology is the ordered list of stages to link, plus the caps applied to
// the push input or caps filter.
type Topology struct {
	Stages []StageKind
	Caps   *audio.PCMFormat
	Mode   audio.PlayMode
}

// Source returns the first stage.
func (t Topology) Source() StageKind {
	if len(t.Stages) == 0 {
		return -1
	}
	return t.Stages[0]
}

// Has reports whether the topology contains the stage.
func (t Topology) Has(kind StageKind) bool {
	for _, s := range t.Stages {
		if s == kind {
			return true
		}
	}
	return false
}

// String returns the stages joined like a launch line.
func (t Topology) String() string {
	names := make([]string, len(t.Stages))
	for i, s := range t.Stages {
		names[i] = s.Element()
	}
	return strings.Join(names, " ! ")
}
