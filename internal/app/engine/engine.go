// Package engine owns the process-wide playback context: the shared event
// loop, the pipeline backend, the gain sink and the set of live players.
package engine

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/engine/registry"
	"github.com/osa030/sysaudio/internal/app/eventloop"
	"github.com/osa030/sysaudio/internal/app/gain"
	"github.com/osa030/sysaudio/internal/app/notification"
	"github.com/osa030/sysaudio/internal/app/playback"
	"github.com/osa030/sysaudio/internal/domain/media"
)

var (
	ErrShutdown  = errors.New("engine is shut down")
	ErrNoBuilder = errors.New("pipeline builder is required")
)

// Option configures an Engine.
type Option func(*Engine)

// WithBuilder sets the pipeline backend.
func WithBuilder(b media.Builder) Option {
	return func(e *Engine) { e.builder = b }
}

// WithGainSink sets the shared mixer sink. A sink that implements
// io.Closer is closed by Shutdown.
func WithGainSink(s gain.Sink) Option {
	return func(e *Engine) { e.gainSink = s }
}

// WithDialer sets the streaming source factory used by WebSocketPush players.
func WithDialer(d playback.StreamDialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithEventSink adds a sink that receives every event before subscribers.
func WithEventSink(s playback.EventSink) Option {
	return func(e *Engine) { e.extraSinks = append(e.extraSinks, s) }
}

// Engine is the process-scoped context shared by all players.
type Engine struct {
	cfg        playback.Config
	builder    media.Builder
	gainSink   gain.Sink
	dialer     playback.StreamDialer
	extraSinks []playback.EventSink

	loop          *eventloop.Loop
	notifications *notification.Manager
	players       *registry.PlayerRegistry

	mu       sync.RWMutex
	shutdown bool
}

// Init creates the engine and starts the shared event loop.
func Init(cfg playback.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:           cfg,
		loop:          eventloop.New(),
		notifications: notification.NewManager(),
		players:       registry.NewPlayerRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.builder == nil {
		return nil, ErrNoBuilder
	}

	e.loop.Start()
	zlog.Info().Msgf("engine: initialized: gain_sink=%t stream_dialer=%t", e.gainSink != nil, e.dialer != nil)
	return e, nil
}

// OnEvent implements playback.EventSink.
func (e *Engine) OnEvent(objectID int, event playback.EventType) {
	for _, s := range e.extraSinks {
		s.OnEvent(objectID, event)
	}
	e.notifications.OnEvent(objectID, event)
}

// NewPlayer creates and registers a player. Object ids must be unique
// among live players.
func (e *Engine) NewPlayer(spec playback.Spec) (*playback.Player, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.shutdown {
		return nil, ErrShutdown
	}

	if err := e.players.Reserve(spec.ObjectID); err != nil {
		return nil, err
	}

	deps := playback.Deps{
		Builder: e.builder,
		Bus:     e.loop,
		Sink:    e,
		Gain:    e.gainSink,
		Dialer:  e.dialer,
	}
	p := playback.New(spec, deps, e.cfg)
	e.players.Bind(p)

	zlog.Info().Msgf("engine: player registered: object_id=%d count=%d", spec.ObjectID, e.players.Count())
	return p, nil
}

// Player returns a live player.
func (e *Engine) Player(objectID int) (*playback.Player, error) {
	return e.players.Get(objectID)
}

// Players returns the live players ordered by object id.
func (e *Engine) Players() []*playback.Player {
	return e.players.All()
}

// ReleasePlayer closes and unregisters a player.
func (e *Engine) ReleasePlayer(objectID int) error {
	p, err := e.players.Remove(objectID)
	if err != nil {
		return err
	}
	if err := p.Close(); err != nil {
		return errors.Wrapf(err, "failed to close player %d", objectID)
	}
	zlog.Info().Msgf("engine: player released: object_id=%d", objectID)
	return nil
}

// Subscribe registers a notification stream and returns its id.
func (e *Engine) Subscribe(stream notification.Stream) string {
	return e.notifications.Subscribe(stream)
}

// Unsubscribe removes a notification stream.
func (e *Engine) Unsubscribe(id string) {
	e.notifications.Unsubscribe(id)
}

// Shutdown closes every player, stops the event loop and closes the gain
// sink. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	e.mu.Unlock()

	var errs error
	for _, p := range e.players.Drain() {
		if err := p.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	e.loop.Stop()
	e.notifications.Close()

	if c, ok := e.gainSink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to close gain sink"))
		}
	}

	zlog.Info().Msg("engine: shut down")
	return errs
}
