package softpipe

import (
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/oto/v3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// OtoConfig configures the oto device output.
type OtoConfig struct {
	SampleRate int `mapstructure:"sample_rate" default:"48000" validate:"min=8000,max=192000"`
	Channels   int `mapstructure:"channels" default:"2" validate:"min=1,max=2"`
	BufferMS   int `mapstructure:"buffer_ms" default:"100" validate:"min=10,max=2000"`
}

// oto allows one context per process.
var (
	otoOnce    sync.Once
	otoCtx     *oto.Context
	otoErr     error
	otoContext OtoConfig
)

func initOto(cfg OtoConfig) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(cfg.BufferMS) * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(op)
		if otoErr == nil {
			<-ready
			otoContext = cfg
			zlog.Info().Msgf("softpipe: audio device opened: rate=%d channels=%d buffer_ms=%d", cfg.SampleRate, cfg.Channels, cfg.BufferMS)
		}
	})
	if otoErr != nil {
		return nil, errors.Wrap(otoErr, "failed to open audio device")
	}
	if otoContext.SampleRate != cfg.SampleRate || otoContext.Channels != cfg.Channels {
		return nil, errors.Newf("audio device already opened with rate=%d channels=%d", otoContext.SampleRate, otoContext.Channels)
	}
	return otoCtx, nil
}

// OtoOutput plays through the system audio device. Every stream gets its
// own oto player; oto mixes them.
type OtoOutput struct {
	cfg OtoConfig
	ctx *oto.Context
}

var _ Output = (*OtoOutput)(nil)

// NewOtoOutput opens the process-wide audio context on first use.
func NewOtoOutput(cfg OtoConfig) (*OtoOutput, error) {
	ctx, err := initOto(cfg)
	if err != nil {
		return nil, err
	}
	return &OtoOutput{cfg: cfg, ctx: ctx}, nil
}

// Format implements Output.
func (o *OtoOutput) Format() audio.PCMFormat {
	return audio.PCMFormat{
		Format:   audio.FormatS16LE,
		Rate:     o.cfg.SampleRate,
		Channels: o.cfg.Channels,
		Layout:   audio.LayoutInterleaved,
	}
}

// Open implements Output.
func (o *OtoOutput) Open() (OutputStream, error) {
	bytesPerMS := o.cfg.SampleRate * o.cfg.Channels * 2 / 1000
	ring := newRing(bytesPerMS * o.cfg.BufferMS)
	player := o.ctx.NewPlayer(ring)
	player.Play()
	return &otoStream{
		ring:    ring,
		player:  player,
		latency: time.Duration(o.cfg.BufferMS) * time.Millisecond,
	}, nil
}

type otoStream struct {
	ring    *ring
	player  *oto.Player
	latency time.Duration
}

func (s *otoStream) Write(p []byte) (int, error) { return s.ring.Write(p) }
func (s *otoStream) Pause() { s.player.Pause() }
func (s *otoStream) Resume() { s.player.Play() }
func (s *otoStream) SetVolume(volume float64) { s.player.SetVolume(volume) }

func (s *otoStream) Drain() {
	s.ring.waitEmpty()
	// The device buffer still holds up to one buffer of audio.
	time.Sleep(s.latency)
}

func (s *otoStream) Close() error {
	s.ring.Close()
	s.player.Pause()
	return nil
}

// ring is the reader handed to oto. It returns silence when empty so the
// device keeps running while a pipeline waits for data.
type ring struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	max    int
	closed bool
}

func newRing(max int) *ring {
	r := &ring{max: max}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	clear(p[n:])
	r.cond.Broadcast()
	return len(p), nil
}

func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for written < len(p) {
		for len(r.buf) >= r.max && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			return written, ErrOutputClosed
		}
		n := min(r.max-len(r.buf), len(p)-written)
		r.buf = append(r.buf, p[written:written+n]...)
		written += n
	}
	return written, nil
}

func (r *ring) waitEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) > 0 && !r.closed {
		r.cond.Wait()
	}
}

func (r *ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}
