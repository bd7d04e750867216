package playback

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	pcmPush  = Spec{AudioType: audio.PCM, SourceType: audio.PushData, PlayMode: audio.System, ObjectID: 1}
	wavFile  = Spec{AudioType: audio.WAV, SourceType: audio.FilePull, PlayMode: audio.System, ObjectID: 2}
	mp3HTTP  = Spec{AudioType: audio.MP3, SourceType: audio.HTTPPull, PlayMode: audio.App, ObjectID: 3}
	pcmFile  = Spec{AudioType: audio.PCM, SourceType: audio.FilePull, PlayMode: audio.System, ObjectID: 4}
	pcmWSApp = Spec{AudioType: audio.PCM, SourceType: audio.WebSocketPush, PlayMode: audio.App, ObjectID: 5}
)

func (p *Player) firstPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstPacketPending
}

func playAndSettle(t *testing.T, h *harness, p *Player, locator string) {
	t.Helper()
	require.NoError(t, p.Play(locator))
	h.loop.Sync()
	require.Equal(t, StatePlaying, p.State())
}

func TestPlayer_InitialState(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmPush)

	assert.Equal(t, StateReady, p.State())
	assert.False(t, p.IsPlaying())
	assert.True(t, p.firstPending())
	assert.Equal(t, audio.DefaultPCMFormat(audio.System), p.PCMFormat())
	assert.Equal(t, 1, h.builder.builds())
	assert.Equal(t, "appsrc ! audioconvert ! audioresample ! audiosink", h.builder.last().topo.String())
}

func TestPlayer_BuildFailure(t *testing.T) {
	h := newHarness(t)
	h.builder.fail = true
	p := h.newPlayer(t, wavFile)

	err := p.Play("/tmp/a.wav")
	assert.True(t, errors.Is(err, ErrPipelineNotReady))
	assert.False(t, p.Pause())
	assert.False(t, p.Resume())
	assert.False(t, p.ConfigurePCMFormat(audio.FormatS16LE, 16000, 1, audio.LayoutInterleaved))
	p.Stop()
	assert.Equal(t, StateReady, p.State())
	assert.False(t, p.IsPlaying())

	push := h.newPlayer(t, pcmPush)
	assert.True(t, errors.Is(push.PlayBuffer([]byte{1, 2}), ErrPipelineNotReady))
}

func TestPlayer_PullPlayEmitsStarted(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)

	playAndSettle(t, h, p, "/music/a.wav")

	assert.Equal(t, "/music/a.wav", h.builder.last().location)
	assert.True(t, p.IsPlaying())
	assert.Equal(t, []EventType{EventPlaybackStarted}, h.tl.events())
}

func TestPlayer_PauseResume(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")

	require.True(t, p.Pause())
	assert.False(t, p.Pause(), "already paused")
	h.loop.Sync()
	assert.Equal(t, StatePaused, p.State())

	require.True(t, p.Resume())
	h.loop.Sync()
	assert.Equal(t, StatePlaying, p.State())
	assert.False(t, p.Resume(), "not paused")

	assert.Equal(t, []EventType{
		EventPlaybackStarted,
		EventPlaybackPaused,
		EventPlaybackResumed,
	}, h.tl.events())
}

func TestPlayer_PauseRefusedByPipeline(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")

	pl := h.builder.last()
	pl.mu.Lock()
	pl.fail = map[media.State]bool{media.StatePaused: true}
	pl.mu.Unlock()

	assert.False(t, p.Pause())
	assert.Equal(t, StatePlaying, p.State())

	pl.mu.Lock()
	pl.fail = nil
	pl.mu.Unlock()
	assert.True(t, p.Pause())
}

func TestPlayer_PauseOnPushSource(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmPush)

	require.NoError(t, p.PlayBuffer([]byte{1, 2, 3, 4}))
	h.loop.Sync()
	before := p.State()

	assert.False(t, p.Pause())
	assert.False(t, p.Resume())
	assert.Equal(t, before, p.State())
}

func TestPlayer_PauseBeforePlayingObserved(t *testing.T) {
	h := newHarness(t)
	h.builder.manual = true
	p := h.newPlayer(t, pcmFile)

	require.NoError(t, p.Play("/tmp/tone.raw"))
	assert.False(t, p.Pause(), "state is not yet Playing")

	pl := h.builder.last()
	h.post(pl, media.Message{Type: media.MessageStateChanged, FromPipeline: true, OldState: media.StateReady, NewState: media.StatePaused})
	h.post(pl, media.Message{Type: media.MessageStateChanged, FromPipeline: true, OldState: media.StatePaused, NewState: media.StatePlaying})
	assert.NotContains(t, h.tl.events(), EventPlaybackPaused)

	require.True(t, p.Pause())
	h.post(pl, media.Message{Type: media.MessageStateChanged, FromPipeline: true, OldState: media.StatePlaying, NewState: media.StatePaused})

	assert.Equal(t, []EventType{EventPlaybackStarted, EventPlaybackPaused}, h.tl.events())
}

func TestPlayer_ElementStateChangesIgnored(t *testing.T) {
	h := newHarness(t)
	h.builder.manual = true
	p := h.newPlayer(t, wavFile)
	pl := h.builder.last()

	h.post(pl, media.Message{Type: media.MessageStateChanged, Source: media.ElementFileSource, OldState: media.StatePaused, NewState: media.StatePlaying})

	assert.Equal(t, StateReady, p.State())
	assert.Empty(t, h.tl.events())
}

func TestPlayer_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		spec     Spec
		source   string
		expected EventType
	}{
		{name: "http source", spec: mp3HTTP, source: media.ElementHTTPSource, expected: EventNetworkError},
		{name: "decoder on http player", spec: mp3HTTP, source: media.ElementMP3Decode, expected: EventPlaybackError},
		{name: "file source", spec: wavFile, source: media.ElementFileSource, expected: EventPlaybackError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.newPlayer(t, tt.spec)
			playAndSettle(t, h, p, "http://example.com/a")

			h.post(h.builder.last(), media.Message{Type: media.MessageError, Source: tt.source, Err: errors.New("boom")})

			assert.Equal(t, StatePlaybackError, p.State())
			assert.Equal(t, 1, h.tl.count("event:"+tt.expected.String()))
			assert.False(t, p.IsPlaying())
		})
	}
}

func TestPlayer_PlayRecoversFromError(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, mp3HTTP)
	playAndSettle(t, h, p, "http://example.com/a.mp3")
	failed := h.builder.last()

	h.post(failed, media.Message{Type: media.MessageError, Source: media.ElementHTTPSource, Err: errors.New("404")})
	require.Equal(t, StatePlaybackError, p.State())

	playAndSettle(t, h, p, "http://example.com/b.mp3")

	assert.Equal(t, 2, h.builder.builds())
	assert.True(t, failed.isClosed())
	assert.Equal(t, "http://example.com/b.mp3", h.builder.last().location)

	// Messages from the destroyed pipeline are no longer routed.
	h.post(failed, media.Message{Type: media.MessageEOS})
	assert.Equal(t, StatePlaying, p.State())
}

func TestPlayer_PushErrorStopsPlayer(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmPush)
	require.NoError(t, p.PlayBuffer(make([]byte, 64)))
	assert.Eventually(t, p.IsPlaying, waitFor, tick)
	failed := h.builder.last()

	h.post(failed, media.Message{Type: media.MessageError, Source: media.ElementAppSource, Err: errors.New("not negotiated")})

	assert.Equal(t, StateReady, p.State())
	assert.True(t, p.firstPending())
	assert.Equal(t, 2, h.builder.builds())
	assert.Equal(t, 1, h.tl.count("event:PLAYBACK_ERROR"))
}

func TestPlayer_EndOfStream(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")

	h.post(h.builder.last(), media.Message{Type: media.MessageEOS, Source: h.builder.last().id, FromPipeline: true})

	assert.Equal(t, StateReady, p.State())
	assert.True(t, p.firstPending())
	assert.Equal(t, 1, h.tl.count("event:PLAYBACK_FINISHED"))
}

func TestPlayer_EndOfStreamAfterError(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")
	pl := h.builder.last()

	h.post(pl, media.Message{Type: media.MessageError, Source: media.ElementWavParse, Err: errors.New("bad header")})
	h.post(pl, media.Message{Type: media.MessageEOS})

	assert.Equal(t, StatePlaybackError, p.State())
	assert.Zero(t, h.tl.count("event:PLAYBACK_FINISHED"))
}

func TestPlayer_DurationChanged(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, wavFile)
	pl := h.builder.last()
	pl.mu.Lock()
	pl.duration = 3 * time.Second
	pl.mu.Unlock()

	h.post(pl, media.Message{Type: media.MessageDurationChanged})

	assert.Equal(t, 3*time.Second, p.Duration())
}

func TestPlayer_PushScenarioSingleStart(t *testing.T) {
	h := newHarness(t)
	h.builder.hold = make(chan struct{})
	p := h.newPlayer(t, pcmPush)
	input := h.builder.last().input

	first := bytes.Repeat([]byte{0xA}, 512)
	second := bytes.Repeat([]byte{0xB}, 2048)

	require.NoError(t, p.PlayBuffer(first))
	assert.Eventually(t, func() bool { return input.enteredCount() == 1 }, waitFor, tick)
	require.NoError(t, p.PlayBuffer(second))
	close(h.builder.hold)

	assert.Eventually(t, func() bool { return len(input.pushed()) == 2560 }, waitFor, tick)
	assert.Equal(t, append(append([]byte(nil), first...), second...), input.pushed())
	assert.Eventually(t, p.IsPlaying, waitFor, tick)

	assert.Equal(t, 1, h.tl.count("event:PLAYBACK_STARTED"))
	assert.Less(t, h.tl.index("push:512"), h.tl.index("event:PLAYBACK_STARTED"))
	if need := h.tl.index("event:NEED_DATA"); need >= 0 {
		assert.Greater(t, need, h.tl.index("push:2048"))
	}
}

func TestPlayer_FeederFragmentsAndNeedData(t *testing.T) {
	h := newHarness(t)
	h.cfg.FragmentSize = 1000
	p := h.newPlayer(t, pcmPush)
	input := h.builder.last().input

	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, p.PlayBuffer(data))

	assert.Eventually(t, func() bool { return h.tl.count("event:NEED_DATA") == 1 }, waitFor, tick)
	assert.Equal(t, data, input.pushed())
	assert.Equal(t, []string{"push:1000", "event:PLAYBACK_STARTED", "push:1000", "push:500", "event:NEED_DATA"}, h.tl.snapshot())
}

func TestPlayer_StopResetsPushState(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmPush)
	require.NoError(t, p.PlayBuffer([]byte{1, 2, 3, 4}))
	assert.Eventually(t, p.IsPlaying, waitFor, tick)

	p.Stop()
	h.loop.Sync()

	assert.Equal(t, StateReady, p.State())
	assert.True(t, p.queue.IsEmpty())
	assert.True(t, p.firstPending())
	assert.False(t, p.IsPlaying())
	assert.Equal(t, media.StateNull, h.builder.last().currentState())

	// A new first chunk starts playback again.
	require.NoError(t, p.PlayBuffer([]byte{5, 6}))
	assert.Eventually(t, func() bool { return h.tl.count("event:PLAYBACK_STARTED") == 2 }, waitFor, tick)
}

func TestPlayer_StopDuringPushKeepsFirstPacketPending(t *testing.T) {
	h := newHarness(t)
	h.builder.hold = make(chan struct{})
	p := h.newPlayer(t, pcmPush)
	input := h.builder.last().input

	require.NoError(t, p.PlayBuffer([]byte{1, 2, 3, 4}))
	assert.Eventually(t, func() bool { return input.enteredCount() == 1 }, waitFor, tick)

	p.Stop()
	close(h.builder.hold)
	assert.Eventually(t, func() bool { return h.tl.count("push:4") == 1 }, waitFor, tick)
	h.loop.Sync()

	assert.True(t, p.firstPending())
	assert.Equal(t, StateReady, p.State())
	assert.Zero(t, h.tl.count("event:PLAYBACK_STARTED"))

	require.NoError(t, p.PlayBuffer([]byte{5, 6}))
	assert.Eventually(t, func() bool { return h.tl.count("event:PLAYBACK_STARTED") == 1 }, waitFor, tick)
	assert.Less(t, h.tl.index("push:2"), h.tl.index("event:PLAYBACK_STARTED"))
}

func TestPlayer_ConfigurePCMFormat(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmFile)
	next := audio.PCMFormat{Format: audio.FormatS16LE, Rate: 16000, Channels: 1, Layout: audio.LayoutInterleaved}

	require.True(t, p.ConfigurePCMFormat(next.Format, next.Rate, next.Channels, next.Layout))
	assert.Equal(t, next, p.PCMFormat())
	assert.Equal(t, next, h.builder.last().caps)

	assert.False(t, p.ConfigurePCMFormat("", 0, 0, ""))
	assert.Equal(t, next, p.PCMFormat())

	playAndSettle(t, h, p, "/tmp/tone.raw")
	assert.False(t, p.ConfigurePCMFormat(audio.FormatS16LE, 8000, 2, audio.LayoutInterleaved))
	assert.Equal(t, next, p.PCMFormat())

	wav := h.newPlayer(t, wavFile)
	assert.False(t, wav.ConfigurePCMFormat(next.Format, next.Rate, next.Channels, next.Layout))
}

func TestPlayer_VolumeRouting(t *testing.T) {
	tests := []struct {
		name           string
		spec           Spec
		withGain       bool
		expectCommands []string
		expectVolume   float64
	}{
		{
			name:           "wav system drives system channel",
			spec:           wavFile,
			withGain:       true,
			expectCommands: []string{"prim_mixgain=0", "prim_mixgain=-6", "syss_mixgain=-20"},
		},
		{
			name:           "mp3 uses stream volume",
			spec:           mp3HTTP,
			withGain:       true,
			expectCommands: []string{"prim_mixgain=0", "prim_mixgain=-6"},
			expectVolume:   0.1,
		},
		{
			name:         "no gain sink uses stream volume",
			spec:         wavFile,
			expectVolume: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.withGain {
				h.gain = &recordingGain{}
			}
			h.cfg.DefaultPrimary = 50
			h.cfg.DefaultPlayer = 10
			p := h.newPlayer(t, tt.spec)

			playAndSettle(t, h, p, "/music/a")

			if tt.withGain {
				assert.Equal(t, tt.expectCommands, h.gain.snapshot())
			}
			assert.InDelta(t, tt.expectVolume, h.builder.last().currentVolume(), 1e-9)
		})
	}
}

func TestPlayer_SetVolumes(t *testing.T) {
	h := newHarness(t)
	h.gain = &recordingGain{}
	p := h.newPlayer(t, wavFile)

	// Not playing: stored only.
	require.NoError(t, p.SetVolumes(50, 50))
	assert.Empty(t, h.gain.snapshot())

	assert.Error(t, p.SetVolumes(101, 50))
	assert.True(t, errors.Is(p.SetVolumes(50, 200), ErrInvalidVolume))

	// The primary channel is un-ducked while the pipeline prerolls.
	playAndSettle(t, h, p, "/music/a.wav")
	assert.Equal(t, []string{"prim_mixgain=0", "prim_mixgain=-6", "syss_mixgain=-6"}, h.gain.snapshot())

	require.NoError(t, p.SetVolumes(-1, 25))
	assert.Equal(t, []string{"prim_mixgain=0", "prim_mixgain=-6", "syss_mixgain=-6", "syss_mixgain=-12"}, h.gain.snapshot())
}

func TestPlayer_PrimaryRestoredWhenNotPlaying(t *testing.T) {
	h := newHarness(t)
	h.gain = &recordingGain{}
	h.cfg.DefaultPrimary = 10
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")
	require.Contains(t, h.gain.snapshot(), "prim_mixgain=-20")

	require.True(t, p.Pause())
	h.loop.Sync()

	cmds := h.gain.snapshot()
	assert.Equal(t, "prim_mixgain=0", cmds[len(cmds)-1])
}

func TestPlayer_WebSocketPush(t *testing.T) {
	h := newHarness(t)
	stream := &fakeStream{}
	h.dialer = func(handler media.StreamHandler) media.StreamSource {
		stream.handler = handler
		return stream
	}
	p := h.newPlayer(t, pcmWSApp)
	input := h.builder.last().input

	require.NoError(t, p.Play("ws://localhost:9000/tts"))
	assert.Equal(t, "ws://localhost:9000/tts", stream.locator)

	stream.handler.OnStreamStatus(media.StreamConnected)
	stream.handler.OnStreamData([]byte{1, 2, 3})
	assert.Eventually(t, func() bool { return len(input.pushed()) == 3 }, waitFor, tick)
	assert.Eventually(t, p.IsPlaying, waitFor, tick)

	stream.handler.OnStreamStatus(media.StreamNetworkError)
	assert.Equal(t, 1, h.tl.count("event:NETWORK_ERROR"))

	p.Stop()
	assert.Equal(t, 1, stream.disconnects())
}

func TestPlayer_WebSocketConnectFailure(t *testing.T) {
	h := newHarness(t)
	stream := &fakeStream{connectErr: errors.New("refused")}
	h.dialer = func(handler media.StreamHandler) media.StreamSource {
		stream.handler = handler
		return stream
	}
	p := h.newPlayer(t, pcmWSApp)

	assert.Error(t, p.Play("ws://localhost:1/tts"))
	assert.Equal(t, []EventType{EventNetworkError}, h.tl.events())

	h.dialer = nil
	noDial := h.newPlayer(t, Spec{AudioType: audio.PCM, SourceType: audio.WebSocketPush, PlayMode: audio.App, ObjectID: 9})
	assert.True(t, errors.Is(noDial.Play("ws://x"), ErrNoStreamSource))
}

func TestPlayer_ErrorSnapshotWritten(t *testing.T) {
	h := newHarness(t)
	h.cfg.DumpDir = t.TempDir()
	p := h.newPlayer(t, wavFile)
	playAndSettle(t, h, p, "/music/a.wav")

	h.post(h.builder.last(), media.Message{Type: media.MessageError, Source: media.ElementWavParse, Err: errors.New("bad")})

	matches, err := filepath.Glob(filepath.Join(h.cfg.DumpDir, "*-2-error-pipeline.dot"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "wavparse")
}

func TestPlayer_Close(t *testing.T) {
	h := newHarness(t)
	p := h.newPlayer(t, pcmPush)
	require.NoError(t, p.PlayBuffer([]byte{1}))
	assert.Eventually(t, p.IsPlaying, waitFor, tick)
	pl := h.builder.last()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.True(t, pl.isClosed())
	assert.False(t, p.IsPlaying())
	assert.True(t, errors.Is(p.Play(""), ErrClosed))
	assert.True(t, errors.Is(p.PlayBuffer([]byte{1}), ErrClosed))

	select {
	case <-p.feederDone:
	default:
		t.Fatal("feeder still running")
	}
}
