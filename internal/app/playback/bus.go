package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/osa030/sysaudio/internal/domain/media"
)

// handleMessage runs on the event loop goroutine for messages posted by pl.
func (p *Player) handleMessage(pl media.Pipeline, msg media.Message) {
	p.mu.Lock()
	if p.closed || p.pipeline != pl {
		p.mu.Unlock()
		return
	}

	var (
		events        []EventType
		reapply       bool
		stopAfter     bool
		errorSnapshot bool
	)

	switch msg.Type {
	case media.MessageError:
		p.log.Error().Err(msg.Err).Msgf("playback: pipeline error: source=%s debug=%s", msg.Source, msg.Debug)
		errorSnapshot = true
		if isNetworkSource(msg.Source) {
			events = append(events, EventNetworkError)
		} else {
			events = append(events, EventPlaybackError)
		}
		p.state = StatePlaybackError
		stopAfter = p.spec.SourceType.IsPush()

	case media.MessageWarning:
		p.log.Warn().Err(msg.Err).Msgf("playback: pipeline warning: source=%s debug=%s", msg.Source, msg.Debug)

	case media.MessageEOS:
		if p.state != StatePlaybackError {
			p.firstPacketPending = true
			events = append(events, EventPlaybackFinished)
			p.state = StateReady
		}

	case media.MessageDurationChanged:
		if d, ok := pl.QueryDuration(); ok {
			p.duration = d
		}
		p.log.Debug().Msgf("playback: duration changed: duration=%s", p.duration)

	case media.MessageStateChanged:
		if !msg.FromPipeline {
			break
		}
		p.log.Debug().Msgf("playback: pipeline state: old=%s new=%s pending=%s", msg.OldState, msg.NewState, msg.Pending)
		events, reapply = p.pipelineStateChangedLocked(msg.OldState, msg.NewState)
	}

	state := p.state
	p.mu.Unlock()

	if errorSnapshot {
		p.dumpPipeline(pl)
	}
	for _, e := range events {
		p.emit(e)
	}
	if reapply {
		p.applyVolumes()
	}
	if stopAfter {
		p.Stop()
		state = p.State()
	}

	// A player that is not playing must not keep other audio ducked.
	switch state {
	case StatePaused, StatePlaybackError, StateReady:
		p.applyPrimary(p.cfg.MaxPrimary)
	}
}

// pipelineStateChangedLocked requires mu.
func (p *Player) pipelineStateChangedLocked(old, next media.State) (events []EventType, reapply bool) {
	switch {
	case old == media.StateReady && next == media.StatePaused,
		old == media.StatePaused && next == media.StatePaused:
		p.state = StatePaused

	case old == media.StatePaused && next == media.StatePlaying:
		p.state = StatePlaying
		// Push sources report start from the feeder once data flows.
		if !p.spec.SourceType.IsPush() {
			if p.isPaused {
				p.isPaused = false
				events = append(events, EventPlaybackResumed)
			} else {
				events = append(events, EventPlaybackStarted)
			}
			reapply = true
		}

	case old == media.StatePlaying && next == media.StatePaused:
		p.state = StatePaused
		if p.isPaused {
			events = append(events, EventPlaybackPaused)
		}

	case old == media.StateReady && next == media.StateNull:
		p.state = StateReady
	}
	return events, reapply
}

func isNetworkSource(source string) bool {
	return strings.Contains(source, media.ElementHTTPSource)
}

// dumpPipeline logs the element graph of a failed pipeline and writes it
// to the dump directory when one is configured.
func (p *Player) dumpPipeline(pl media.Pipeline) {
	graph := pl.Describe()
	p.log.Debug().Msgf("playback: pipeline snapshot:\n%s", graph)
	if p.cfg.DumpDir == "" {
		return
	}
	name := fmt.Sprintf("%d-%d-error-pipeline.dot", time.Now().UnixNano(), p.spec.ObjectID)
	path := filepath.Join(p.cfg.DumpDir, name)
	if err := os.WriteFile(path, []byte(graph), 0o644); err != nil {
		p.log.Warn().Err(err).Msgf("playback: failed to write pipeline snapshot: path=%s", path)
		return
	}
	p.log.Info().Msgf("playback: pipeline snapshot written: path=%s", path)
}
