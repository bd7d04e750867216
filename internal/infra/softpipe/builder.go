// Package softpipe is a software media pipeline backend.
//
// A pipeline is a linear chain of stages (source, optional parser and
// decoder, optional convert/resample, sink) driven through the NULL, READY,
// PAUSED and PLAYING states. Decoding runs on one streaming goroutine per
// pipeline; messages are posted to the bus given at build time.
package softpipe

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

var (
	ErrLink            = errors.New("failed to link pipeline")
	ErrUnsupportedCaps = errors.New("unsupported caps")
	ErrNoLocation      = errors.New("no location set")
	ErrFlushing        = errors.New("push input is flushing")
	ErrNotPCM          = errors.New("pipeline has no raw caps")
)

// Config holds backend tuning.
type Config struct {
	// PushMaxBytes bounds the bytes queued in a push input before Push blocks.
	PushMaxBytes int
	// HTTPTimeout bounds connection setup of http sources.
	HTTPTimeout time.Duration
}

// DefaultConfig returns the backend defaults.
func DefaultConfig() Config {
	return Config{
		PushMaxBytes: 512000,
		HTTPTimeout:  10 * time.Second,
	}
}

// Builder links pipelines that play to one output.
type Builder struct {
	cfg    Config
	out    Output
	client *http.Client
}

var _ media.Builder = (*Builder)(nil)

// NewBuilder creates a builder.
func NewBuilder(cfg Config, out Output) *Builder {
	if cfg.PushMaxBytes <= 0 {
		cfg.PushMaxBytes = DefaultConfig().PushMaxBytes
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	return &Builder{
		cfg:    cfg,
		out:    out,
		client: &http.Client{Transport: transport},
	}
}

// Build validates the topology and returns a pipeline in the NULL state.
func (b *Builder) Build(topo media.Topology, bus media.Bus) (media.Pipeline, error) {
	if err := validate(topo); err != nil {
		zlog.Error().Err(err).Msgf("softpipe: link failed: topology=%s", topo)
		return nil, err
	}

	p := &Pipeline{
		id:     "pipeline-" + uuid.New().String(),
		topo:   topo,
		bus:    bus,
		out:    b.out,
		client: b.client,
		volume: 1,
	}
	p.state = media.StateNull
	p.pending = media.StateNull
	if topo.Caps != nil {
		p.caps = *topo.Caps
	}
	if topo.Source() == media.StagePushSource {
		p.app = newAppSource(b.cfg.PushMaxBytes)
		p.app.caps = p.caps
	}

	zlog.Debug().Msgf("softpipe: pipeline linked: id=%s topology=%s", p.id, topo)
	return p, nil
}

// validate checks that the stages can be linked in order.
func validate(topo media.Topology) error {
	stages := topo.Stages
	if len(stages) < 2 {
		return errors.Wrapf(ErrLink, "too few stages: %s", topo)
	}
	if !stages[0].IsSource() {
		return errors.Wrapf(ErrLink, "first stage %s is not a source", stages[0].Element())
	}
	if stages[len(stages)-1] != media.StageSink {
		return errors.Wrapf(ErrLink, "last stage %s is not a sink", stages[len(stages)-1].Element())
	}

	for i := 1; i < len(stages); i++ {
		prev, cur := stages[i-1], stages[i]
		if cur.IsSource() {
			return errors.Wrapf(ErrLink, "%s cannot follow %s", cur.Element(), prev.Element())
		}
		if cur == media.StageSink && i != len(stages)-1 {
			return errors.Wrapf(ErrLink, "%s must be the last stage", cur.Element())
		}
		switch cur {
		case media.StageMP3Decode:
			if prev != media.StageMP3Parse {
				return errors.Wrapf(ErrLink, "%s requires %s upstream", cur.Element(), media.ElementMP3Parse)
			}
		case media.StageCapsFilter:
			if !prev.IsSource() {
				return errors.Wrapf(ErrLink, "%s must follow the source", cur.Element())
			}
		}
		if prev == media.StageMP3Parse && cur != media.StageMP3Decode {
			return errors.Wrapf(ErrLink, "%s requires %s downstream", prev.Element(), media.ElementMP3Decode)
		}
	}

	raw := !topo.Has(media.StageWavParse) && !topo.Has(media.StageMP3Parse)
	if raw {
		if topo.Caps == nil {
			return errors.Wrapf(ErrLink, "raw topology without caps: %s", topo)
		}
		if err := checkCaps(*topo.Caps); err != nil {
			return errors.Mark(err, ErrLink)
		}
	}
	return nil
}

// checkCaps accepts interleaved signed 16-bit little-endian PCM.
func checkCaps(f audio.PCMFormat) error {
	if f.Format != audio.FormatS16LE || f.Layout != audio.LayoutInterleaved || f.Rate <= 0 || f.Channels <= 0 {
		return errors.Wrapf(ErrUnsupportedCaps, "%s", f)
	}
	return nil
}
