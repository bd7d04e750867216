package playback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/gain"
	"github.com/osa030/sysaudio/internal/app/streamqueue"
	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

var (
	ErrPipelineNotReady = errors.New("pipeline not ready")
	ErrNotPushSource    = errors.New("operation requires a push source")
	ErrInvalidVolume    = errors.New("volume out of range")
	ErrNoStreamSource   = errors.New("no stream source available")
	ErrClosed           = errors.New("player closed")
)

// Config holds player tuning.
type Config struct {
	FragmentSize   int
	QueueCapacity  int
	ResetTimeout   time.Duration
	DestroyTimeout time.Duration
	ConvertStages  bool
	DefaultPrimary int
	DefaultPlayer  int
	MaxPrimary     int
	DumpDir        string
}

// DefaultConfig returns the tuning used on the target platform.
func DefaultConfig() Config {
	return Config{
		FragmentSize:   128 * 1024,
		QueueCapacity:  1000,
		ResetTimeout:   300 * time.Millisecond,
		DestroyTimeout: 200 * time.Millisecond,
		ConvertStages:  true,
		DefaultPrimary: 100,
		DefaultPlayer:  100,
		MaxPrimary:     100,
	}
}

// Spec is the immutable classification of a player.
type Spec struct {
	AudioType  audio.AudioType
	SourceType audio.SourceType
	PlayMode   audio.PlayMode
	ObjectID   int
}

// Bus is the shared event loop as seen by a player.
type Bus interface {
	media.Bus
	media.Watcher
}

// StreamDialer creates a streaming byte source reporting to h.
type StreamDialer func(h media.StreamHandler) media.StreamSource

// Deps are the collaborators of a player. Gain and Dialer may be nil.
type Deps struct {
	Builder media.Builder
	Bus     Bus
	Sink    EventSink
	Gain    gain.Sink
	Dialer  StreamDialer
}

// Player is one playback instance. It owns a media pipeline and reconciles
// caller commands with asynchronous bus messages.
type Player struct {
	spec Spec
	cfg  Config
	deps Deps
	gain *gain.Controller
	log  zerolog.Logger

	// playMu serialises Play against Play and Close. apiMu serialises
	// Pause, Resume, Stop and PlayBuffer so Play never waits behind pushes.
	playMu sync.Mutex
	apiMu  sync.Mutex

	mu                 sync.Mutex
	pipeline           media.Pipeline
	state              State
	isPaused           bool
	firstPacketPending bool
	stopSeq            uint64
	pcm                audio.PCMFormat
	primaryVolume      int
	playerVolume       int
	duration           time.Duration
	locator            string
	stream             media.StreamSource
	closed             bool

	queue      *streamqueue.Queue
	running    atomic.Bool
	feederDone chan struct{}
	closeOnce  sync.Once
}

// New creates a player and builds its pipeline. A pipeline that fails to
// link is logged and left absent; the player stays usable and reports
// ErrPipelineNotReady from Play.
func New(spec Spec, deps Deps, cfg Config) *Player {
	p := &Player{
		spec:               spec,
		cfg:                cfg,
		deps:               deps,
		gain:               gain.NewController(deps.Gain),
		state:              StateReady,
		firstPacketPending: true,
		pcm:                audio.DefaultPCMFormat(spec.PlayMode),
		primaryVolume:      cfg.DefaultPrimary,
		playerVolume:       cfg.DefaultPlayer,
	}
	p.log = zlog.With().
		Int("object_id", spec.ObjectID).
		Str("audio_type", spec.AudioType.String()).
		Str("source_type", spec.SourceType.String()).
		Str("play_mode", spec.PlayMode.String()).
		Logger()

	p.mu.Lock()
	p.createPipelineLocked()
	p.mu.Unlock()

	if spec.SourceType.IsPush() {
		p.queue = streamqueue.New(cfg.QueueCapacity)
		p.feederDone = make(chan struct{})
		p.running.Store(true)
		go p.feed()
	}

	p.log.Info().Msgf("playback: player created: pcm=%s", p.pcm)
	return p
}

// ObjectID returns the caller-assigned id of the player.
func (p *Player) ObjectID() int {
	return p.spec.ObjectID
}

// Spec returns the classification of the player.
func (p *Player) Spec() Spec {
	return p.spec
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Duration returns the last duration reported by the pipeline.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// PCMFormat returns the stored raw PCM format.
func (p *Player) PCMFormat() audio.PCMFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcm
}

// IsPlaying reports whether audio is flowing. A push pipeline is only
// considered playing once its first chunk has been fed.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isPlayingLocked()
}

func (p *Player) isPlayingLocked() bool {
	if p.pipeline == nil || p.state != StatePlaying {
		return false
	}
	if p.spec.SourceType.IsPush() {
		return !p.firstPacketPending
	}
	return true
}

// Play starts playback of locator. For pull sources the locator is a path
// or URL; for WebSocketPush it is the stream URL; PushData ignores it.
func (p *Player) Play(locator string) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	hasPipeline := p.pipeline != nil
	p.mu.Unlock()
	if !hasPipeline {
		p.log.Error().Msg("playback: play rejected: pipeline not ready")
		return ErrPipelineNotReady
	}

	// Stop also rebuilds a pipeline destroyed by a previous error.
	p.Stop()

	p.mu.Lock()
	pl := p.pipeline
	p.locator = locator
	p.mu.Unlock()
	if pl == nil {
		return ErrPipelineNotReady
	}

	if !p.spec.SourceType.IsPush() {
		if err := pl.SetLocation(locator); err != nil {
			return errors.Wrapf(err, "failed to set location %q", locator)
		}
	}

	if ret := pl.SetState(media.StatePlaying); ret == media.StateChangeFailure {
		p.log.Error().Msgf("playback: failed to start pipeline: locator=%s", locator)
		return errors.Newf("pipeline %s refused PLAYING", pl.ID())
	}

	// The stream is connected once the push input accepts data.
	if p.spec.SourceType == audio.WebSocketPush {
		if err := p.connectStream(locator); err != nil {
			pl.SetState(media.StateNull)
			return err
		}
	}
	p.log.Info().Msgf("playback: play requested: locator=%s", locator)
	return nil
}

// PlayBuffer queues data on a push source, starting the pipeline first if
// needed. A full queue drops the buffer without error.
func (p *Player) PlayBuffer(data []byte) error {
	if !p.spec.SourceType.IsPush() {
		return ErrNotPushSource
	}

	p.apiMu.Lock()
	defer p.apiMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	pl := p.pipeline
	state := p.state
	p.mu.Unlock()
	if pl == nil {
		return ErrPipelineNotReady
	}

	if state != StatePlaying {
		if ret := pl.SetState(media.StatePlaying); ret == media.StateChangeFailure {
			p.log.Error().Msg("playback: failed to start push pipeline")
			return errors.Newf("pipeline %s refused PLAYING", pl.ID())
		}
	}

	if !p.queue.Add(data) {
		p.log.Debug().Msgf("playback: buffer dropped: size=%d queued=%d", len(data), p.queue.Len())
	}
	return nil
}

// Pause pauses a pull source. It returns false when the player is not
// playing, is already paused, or is a push source.
func (p *Player) Pause() bool {
	if p.spec.SourceType.IsPush() {
		return false
	}

	p.apiMu.Lock()
	defer p.apiMu.Unlock()

	p.mu.Lock()
	pl := p.pipeline
	if pl == nil || p.isPaused || p.state != StatePlaying {
		p.mu.Unlock()
		return false
	}
	p.isPaused = true
	p.mu.Unlock()

	if ret := pl.SetState(media.StatePaused); ret == media.StateChangeFailure {
		p.mu.Lock()
		p.isPaused = false
		p.mu.Unlock()
		p.log.Warn().Msg("playback: pause refused by pipeline")
		return false
	}
	p.log.Info().Msg("playback: pause requested")
	return true
}

// Resume resumes a paused pull source.
func (p *Player) Resume() bool {
	if p.spec.SourceType.IsPush() {
		return false
	}

	p.apiMu.Lock()
	defer p.apiMu.Unlock()

	p.mu.Lock()
	pl := p.pipeline
	if pl == nil || !p.isPaused || p.state != StatePaused {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	if ret := pl.SetState(media.StatePlaying); ret == media.StateChangeFailure {
		p.log.Warn().Msg("playback: resume refused by pipeline")
		return false
	}
	p.log.Info().Msg("playback: resume requested")
	return true
}

// Stop returns the player to Ready. It is always allowed.
func (p *Player) Stop() {
	p.apiMu.Lock()
	defer p.apiMu.Unlock()
	p.stopLocked()
}

// stopLocked requires apiMu.
func (p *Player) stopLocked() {
	push := p.spec.SourceType.IsPush()
	if push {
		p.disconnectStream()
		p.queue.Clear()
	}

	p.resetPipeline()

	p.mu.Lock()
	p.state = StateReady
	if push {
		// A push still in flight belongs to the stopped stream.
		p.stopSeq++
		p.firstPacketPending = true
	}
	p.mu.Unlock()
	p.log.Debug().Msg("playback: stopped")
}

// resetPipeline destroys a failed pipeline and rebuilds it, or drives a
// healthy one to NULL and waits for the change to settle.
func (p *Player) resetPipeline() {
	p.mu.Lock()
	var failed media.Pipeline
	if p.state == StatePlaybackError {
		failed = p.pipeline
		p.pipeline = nil
	}
	p.isPaused = false
	p.mu.Unlock()

	if failed != nil {
		p.destroyPipeline(failed)
	}

	p.mu.Lock()
	if p.pipeline == nil {
		p.createPipelineLocked()
		p.mu.Unlock()
		return
	}
	pl := p.pipeline
	p.mu.Unlock()

	pl.SetState(media.StateNull)
	if !waitForState(pl, media.StateNull, p.cfg.ResetTimeout) {
		p.log.Warn().Msgf("playback: pipeline did not reach NULL: id=%s timeout=%s", pl.ID(), p.cfg.ResetTimeout)
	}
}

// createPipelineLocked requires mu.
func (p *Player) createPipelineLocked() {
	if p.closed || p.deps.Builder == nil {
		return
	}
	topo := SelectTopology(p.spec.AudioType, p.spec.SourceType, p.spec.PlayMode, p.pcm, p.cfg.ConvertStages)
	pl, err := p.deps.Builder.Build(topo, p.deps.Bus)
	if err != nil {
		p.log.Error().Err(err).Msgf("playback: failed to build pipeline: topology=%s", topo)
		p.pipeline = nil
		return
	}
	p.pipeline = pl
	if p.deps.Bus != nil {
		p.deps.Bus.Watch(pl.ID(), func(msg media.Message) {
			p.handleMessage(pl, msg)
		})
	}
	p.log.Debug().Msgf("playback: pipeline created: id=%s topology=%s", pl.ID(), topo)
}

// destroyPipeline tears down a pipeline that is no longer referenced by the
// player. Messages it posts afterwards are not delivered.
func (p *Player) destroyPipeline(pl media.Pipeline) {
	if p.deps.Bus != nil {
		p.deps.Bus.Unwatch(pl.ID())
	}
	pl.SetState(media.StateNull)
	waitForState(pl, media.StateNull, p.cfg.DestroyTimeout)
	if err := pl.Close(); err != nil {
		p.log.Warn().Err(err).Msgf("playback: failed to close pipeline: id=%s", pl.ID())
	}
	p.log.Debug().Msgf("playback: pipeline destroyed: id=%s", pl.ID())
}

// waitForState polls until the pipeline settles in target or timeout
// elapses.
func waitForState(pl media.Pipeline, target media.State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		step := min(max(time.Until(deadline), 0), 10*time.Millisecond)
		if current, _ := pl.GetState(step); current == target {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}

// ConfigurePCMFormat updates the raw PCM format. It is rejected while
// playing, for non-PCM players, or when the format is not supported.
func (p *Player) ConfigurePCMFormat(format string, rate, channels int, layout string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isPlayingLocked() || p.spec.AudioType != audio.PCM || p.pipeline == nil {
		return false
	}
	next := audio.PCMFormat{Format: format, Rate: rate, Channels: channels, Layout: layout}
	if !next.Valid() {
		return false
	}
	if err := p.pipeline.SetCaps(next); err != nil {
		p.log.Warn().Err(err).Msgf("playback: caps rejected: pcm=%s", next)
		return false
	}
	p.pcm = next
	p.log.Info().Msgf("playback: pcm format configured: pcm=%s", next)
	return true
}

// SetVolumes stores the primary and player volumes (0-100) and applies them
// immediately while playing. A negative value leaves that volume unchanged.
func (p *Player) SetVolumes(primary, player int) error {
	if primary > 100 || player > 100 {
		return errors.Wrapf(ErrInvalidVolume, "primary=%d player=%d", primary, player)
	}

	p.mu.Lock()
	if primary >= 0 {
		p.primaryVolume = primary
	}
	if player >= 0 {
		p.playerVolume = player
	}
	playing := p.isPlayingLocked()
	p.mu.Unlock()

	if playing {
		p.applyVolumes()
	}
	return nil
}

// Close releases the player. The feeder is joined and the pipeline is
// destroyed. Close is idempotent.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.playMu.Lock()
		defer p.playMu.Unlock()
		p.apiMu.Lock()
		defer p.apiMu.Unlock()

		p.mu.Lock()
		p.closed = true
		pl := p.pipeline
		p.mu.Unlock()

		if p.spec.SourceType.IsPush() {
			p.running.Store(false)
			p.queue.Close()
			p.disconnectStream()
		}

		// NULL flushes the push input so a feeder blocked in Push returns.
		if pl != nil {
			pl.SetState(media.StateNull)
		}
		if p.feederDone != nil {
			<-p.feederDone
		}

		p.mu.Lock()
		p.pipeline = nil
		p.mu.Unlock()
		if pl != nil {
			p.destroyPipeline(pl)
		}
		p.log.Info().Msg("playback: player closed")
	})
	return nil
}

// applyVolumes re-applies both cached volumes.
func (p *Player) applyVolumes() {
	p.mu.Lock()
	primary, player := p.primaryVolume, p.playerVolume
	p.mu.Unlock()
	p.applyPrimary(primary)
	p.applyPlayerVolume(player)
}

func (p *Player) applyPrimary(volume int) {
	if err := p.gain.Apply(gain.Primary, volume); err != nil {
		if errors.Is(err, gain.ErrNoSink) {
			p.log.Debug().Msgf("playback: primary volume not applied: volume=%d", volume)
			return
		}
		p.log.Warn().Err(err).Msgf("playback: primary volume not applied: volume=%d", volume)
	}
}

// applyPlayerVolume drives the mixer channel of the play mode when a gain
// sink exists. MP3 players and platforms without a sink use the pipeline
// stream volume instead.
func (p *Player) applyPlayerVolume(volume int) {
	if p.gain.Available() && p.spec.AudioType != audio.MP3 {
		ch := gain.ChannelForMode(p.spec.PlayMode)
		if err := p.gain.Apply(ch, volume); err != nil {
			p.log.Warn().Err(err).Msgf("playback: player volume not applied: channel=%s volume=%d", ch, volume)
		}
		return
	}

	p.mu.Lock()
	pl := p.pipeline
	p.mu.Unlock()
	if pl != nil {
		pl.SetVolume(float64(volume) / 100)
	}
}

func (p *Player) emit(event EventType) {
	p.log.Info().Msgf("playback: event: event=%s", event)
	if p.deps.Sink != nil {
		p.deps.Sink.OnEvent(p.spec.ObjectID, event)
	}
}
