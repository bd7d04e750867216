package playback

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/domain/media"
)

// streamAdapter bridges a streaming byte source into the player.
type streamAdapter struct {
	p *Player
}

func (a streamAdapter) OnStreamStatus(status media.StreamStatus) {
	switch status {
	case media.StreamNetworkError:
		a.p.log.Error().Msg("playback: stream network error")
		a.p.emit(EventNetworkError)
	default:
		a.p.log.Info().Msgf("playback: stream status: status=%s", status)
	}
}

func (a streamAdapter) OnStreamData(data []byte) {
	if !a.p.queue.Add(data) {
		a.p.log.Debug().Msgf("playback: stream data dropped: size=%d", len(data))
	}
}

// connectStream opens the streaming source for locator. A connection
// failure is reported as NETWORK_ERROR.
func (p *Player) connectStream(locator string) error {
	if p.deps.Dialer == nil {
		return ErrNoStreamSource
	}
	src := p.deps.Dialer(streamAdapter{p: p})
	if src == nil {
		return ErrNoStreamSource
	}
	if err := src.Connect(locator); err != nil {
		p.log.Error().Err(err).Msgf("playback: stream connect failed: locator=%s", locator)
		p.emit(EventNetworkError)
		return errors.Wrapf(err, "failed to connect %s", locator)
	}

	p.mu.Lock()
	p.stream = src
	p.mu.Unlock()
	return nil
}

func (p *Player) disconnectStream() {
	p.mu.Lock()
	src := p.stream
	p.stream = nil
	p.mu.Unlock()
	if src == nil {
		return
	}
	if err := src.Disconnect(); err != nil {
		p.log.Warn().Err(err).Msg("playback: stream disconnect failed")
	}
}
