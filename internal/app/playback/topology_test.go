package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

func TestSelectTopology(t *testing.T) {
	tests := []struct {
		name     string
		at       audio.AudioType
		st       audio.SourceType
		convert  bool
		expected string
		hasCaps  bool
	}{
		{
			name:     "pcm push without convert",
			at:       audio.PCM,
			st:       audio.PushData,
			expected: "appsrc ! audiosink",
			hasCaps:  true,
		},
		{
			name:     "pcm push with convert",
			at:       audio.PCM,
			st:       audio.WebSocketPush,
			convert:  true,
			expected: "appsrc ! audioconvert ! audioresample ! audiosink",
			hasCaps:  true,
		},
		{
			name:     "pcm file uses caps filter",
			at:       audio.PCM,
			st:       audio.FilePull,
			expected: "filesrc ! capsfilter ! audiosink",
			hasCaps:  true,
		},
		{
			name:     "wav over http",
			at:       audio.WAV,
			st:       audio.HTTPPull,
			expected: "httpsrc ! wavparse ! audioconvert ! audioresample ! audiosink",
		},
		{
			name:     "mp3 file",
			at:       audio.MP3,
			st:       audio.FilePull,
			convert:  true,
			expected: "filesrc ! mpegaudioparse ! mp3dec ! audioconvert ! audioresample ! audiosink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := audio.DefaultPCMFormat(audio.System)
			topo := SelectTopology(tt.at, tt.st, audio.System, caps, tt.convert)

			assert.Equal(t, tt.expected, topo.String())
			if tt.hasCaps {
				require.NotNil(t, topo.Caps)
				assert.Equal(t, caps, *topo.Caps)
			} else {
				assert.Nil(t, topo.Caps)
			}
			assert.Equal(t, media.StageSink, topo.Stages[len(topo.Stages)-1])
		})
	}
}
