package playback

import (
	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

// SelectTopology returns the stages to link for a player classification.
// convert adds explicit convert/resample stages to PCM topologies, for
// platforms whose sink cannot negotiate the incoming caps itself.
func SelectTopology(at audio.AudioType, st audio.SourceType, mode audio.PlayMode, caps audio.PCMFormat, convert bool) media.Topology {
	topo := media.Topology{Mode: mode}
	topo.Stages = append(topo.Stages, sourceStage(st))

	switch at {
	case audio.PCM:
		c := caps
		topo.Caps = &c
		if !st.IsPush() {
			topo.Stages = append(topo.Stages, media.StageCapsFilter)
		}
		if convert {
			topo.Stages = append(topo.Stages, media.StageConvert, media.StageResample)
		}
	case audio.WAV:
		topo.Stages = append(topo.Stages, media.StageWavParse, media.StageConvert, media.StageResample)
	case audio.MP3:
		topo.Stages = append(topo.Stages, media.StageMP3Parse, media.StageMP3Decode, media.StageConvert, media.StageResample)
	}

	topo.Stages = append(topo.Stages, media.StageSink)
	return topo
}

func sourceStage(st audio.SourceType) media.StageKind {
	switch st {
	case audio.HTTPPull:
		return media.StageHTTPSource
	case audio.FilePull:
		return media.StageFileSource
	default:
		return media.StagePushSource
	}
}
