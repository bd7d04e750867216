package softpipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

// streamChunk is the number of bytes moved to the output per write.
const streamChunk = 8192

// Pipeline is a linked software pipeline.
type Pipeline struct {
	id     string
	topo   media.Topology
	bus    media.Bus
	out    Output
	client *http.Client
	app    *appSource

	// stateMu serialises state changes.
	stateMu sync.Mutex

	mu            sync.Mutex
	state         media.State
	pending       media.State
	location      string
	caps          audio.PCMFormat
	volume        float64
	duration      time.Duration
	durationKnown bool
	closed        bool

	// Resources held from PAUSED upwards.
	src    *source
	output OutputStream
	cancel context.CancelFunc
	run    *streaming
}

var _ media.Pipeline = (*Pipeline)(nil)

// ID implements media.Pipeline.
func (p *Pipeline) ID() string {
	return p.id
}

// SetState walks the adjacent states up or down to target, posting a
// StateChanged message for every step. A failing step posts an Error from
// the failing element and leaves the pipeline in the last reached state.
func (p *Pipeline) SetState(target media.State) media.StateChangeReturn {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	p.mu.Lock()
	if p.closed && target != media.StateNull {
		p.mu.Unlock()
		return media.StateChangeFailure
	}
	current := p.state
	p.pending = target
	p.mu.Unlock()

	ret := media.StateChangeSuccess
	for current != target {
		next := current + 1
		if target < current {
			next = current - 1
		}

		async, err := p.changeState(current, next)
		if err != nil {
			p.mu.Lock()
			p.pending = p.state
			p.mu.Unlock()
			p.postError(err, p.topo.Source().Element())
			return media.StateChangeFailure
		}
		if async {
			ret = media.StateChangeAsync
		}

		p.mu.Lock()
		p.state = next
		if next == target {
			p.pending = next
		}
		pending := p.pending
		p.mu.Unlock()

		zlog.Debug().Msgf("softpipe: state changed: id=%s old=%s new=%s", p.id, current, next)
		p.post(media.Message{
			Type:         media.MessageStateChanged,
			Source:       p.id,
			FromPipeline: true,
			OldState:     current,
			NewState:     next,
			Pending:      pending,
		})
		current = next
	}
	return ret
}

// changeState performs one adjacent transition.
func (p *Pipeline) changeState(from, to media.State) (async bool, err error) {
	switch {
	case from == media.StateReady && to == media.StatePaused:
		return false, p.preroll()
	case from == media.StatePaused && to == media.StatePlaying:
		p.start()
		return true, nil
	case from == media.StatePlaying && to == media.StatePaused:
		p.pause()
	case from == media.StatePaused && to == media.StateReady:
		p.teardown()
	}
	return false, nil
}

// preroll opens the source and the output.
func (p *Pipeline) preroll() error {
	p.mu.Lock()
	location, caps := p.location, p.caps
	volume := p.volume
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		src *source
		err error
	)
	switch p.topo.Source() {
	case media.StageFileSource:
		src, err = openFile(location)
	case media.StageHTTPSource:
		src, err = openHTTP(ctx, p.client, location)
	case media.StagePushSource:
		p.app.setFlushing(false)
		src = openApp(p.app)
		caps = p.app.currentCaps()
	}
	if err != nil {
		cancel()
		return err
	}

	output, err := p.out.Open()
	if err != nil {
		cancel()
		_ = src.Close()
		if p.app != nil {
			p.app.setFlushing(true)
		}
		return tag(media.ElementSink, err)
	}
	output.SetVolume(volume)
	output.Pause()

	p.mu.Lock()
	p.src = src
	p.output = output
	p.cancel = cancel
	p.run = newStreaming(ctx, src, caps)
	p.mu.Unlock()
	return nil
}

// start launches the streaming goroutine or lets it continue.
func (p *Pipeline) start() {
	p.mu.Lock()
	run, output := p.run, p.output
	p.mu.Unlock()
	if run == nil {
		return
	}
	output.Resume()
	if run.begin() {
		go p.stream(run, output)
	}
	run.gate.set(true)
}

func (p *Pipeline) pause() {
	p.mu.Lock()
	run, output := p.run, p.output
	p.mu.Unlock()
	if run != nil {
		run.gate.set(false)
	}
	if output != nil {
		output.Pause()
	}
}

// teardown stops streaming and releases the source and the output.
func (p *Pipeline) teardown() {
	p.mu.Lock()
	run, src, output, cancel := p.run, p.src, p.output, p.cancel
	p.run, p.src, p.output, p.cancel = nil, nil, nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if run != nil {
		run.gate.cancel()
	}
	if p.app != nil {
		p.app.setFlushing(true)
	}
	if src != nil {
		if err := src.Close(); err != nil {
			zlog.Debug().Err(err).Msgf("softpipe: source close: id=%s", p.id)
		}
	}
	if output != nil {
		_ = output.Close()
	}
	if run != nil {
		run.wait()
	}
}

// stream runs the parse, decode, convert and sink stages until the input
// ends, fails, or the pipeline is torn down.
func (p *Pipeline) stream(run *streaming, output OutputStream) {
	defer run.finish()

	dec, err := decode(p.topo, run.src, run.caps)
	if err != nil {
		p.streamFailed(run, err)
		return
	}
	if dec.duration > 0 {
		p.mu.Lock()
		p.duration, p.durationKnown = dec.duration, true
		p.mu.Unlock()
		p.post(media.Message{Type: media.MessageDurationChanged, Source: p.id, FromPipeline: true, Duration: dec.duration})
	}

	r := convert(dec.r, dec.format, p.out.Format())
	buf := make([]byte, streamChunk)
	for {
		if !run.gate.wait() {
			return
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := output.Write(buf[:n]); werr != nil {
				p.streamFailed(run, tag(media.ElementSink, werr))
				return
			}
		}
		if errors.Is(err, io.EOF) {
			output.Drain()
			if run.ctx.Err() == nil {
				zlog.Debug().Msgf("softpipe: end of stream: id=%s", p.id)
				p.post(media.Message{Type: media.MessageEOS, Source: p.id, FromPipeline: true})
			}
			return
		}
		if err != nil {
			p.streamFailed(run, err)
			return
		}
	}
}

// streamFailed reports err unless the failure was caused by teardown.
func (p *Pipeline) streamFailed(run *streaming, err error) {
	if run.ctx.Err() != nil || errors.Is(err, ErrFlushing) || errors.Is(err, ErrOutputClosed) {
		return
	}
	p.postError(err, p.topo.Source().Element())
}

func (p *Pipeline) postError(err error, fallback string) {
	element := elementOf(err, fallback)
	zlog.Error().Err(err).Msgf("softpipe: element error: id=%s element=%s", p.id, element)
	p.post(media.Message{
		Type:   media.MessageError,
		Source: element,
		Err:    err,
		Debug:  fmt.Sprintf("%s/%s: %+v", p.id, element, err),
	})
}

func (p *Pipeline) post(msg media.Message) {
	if p.bus != nil {
		p.bus.Post(p.id, msg)
	}
}

// GetState returns the current and pending state, waiting up to timeout
// for a change in progress. Pending equals current when nothing is pending.
func (p *Pipeline) GetState(timeout time.Duration) (current, pending media.State) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		current, pending = p.state, p.pending
		p.mu.Unlock()
		if current == pending || !time.Now().Before(deadline) {
			return current, pending
		}
		time.Sleep(min(5*time.Millisecond, time.Until(deadline)))
	}
}

// SetLocation sets the file path or URL read by a pull source.
func (p *Pipeline) SetLocation(locator string) error {
	if p.app != nil {
		return errors.Newf("%s has no location", media.ElementAppSource)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = locator
	return nil
}

// SetCaps updates the caps filter or push input caps. It applies from the
// next preroll.
func (p *Pipeline) SetCaps(format audio.PCMFormat) error {
	if p.topo.Caps == nil {
		return ErrNotPCM
	}
	if err := checkCaps(format); err != nil {
		return err
	}
	if p.app != nil {
		if err := p.app.SetCaps(format); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = format
	return nil
}

// PushInput returns the push input, or nil for pull sources.
func (p *Pipeline) PushInput() media.PushInput {
	if p.app == nil {
		return nil
	}
	return p.app
}

// SetVolume sets the stream volume in the range [0, 1].
func (p *Pipeline) SetVolume(volume float64) {
	volume = max(0, min(volume, 1))
	p.mu.Lock()
	p.volume = volume
	output := p.output
	p.mu.Unlock()
	if output != nil {
		output.SetVolume(volume)
	}
}

// QueryDuration returns the stream duration once it is known.
func (p *Pipeline) QueryDuration() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration, p.durationKnown
}

// Describe returns the element graph in dot notation.
func (p *Pipeline) Describe() string {
	p.mu.Lock()
	state, location, caps := p.state, p.location, p.caps
	p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", p.id)
	fmt.Fprintf(&b, "  label=\"%s state=%s\";\n", p.id, state)
	names := make([]string, 0, len(p.topo.Stages))
	for _, s := range p.topo.Stages {
		el := s.Element()
		names = append(names, fmt.Sprintf("%q", el))
		switch {
		case s == media.StageFileSource || s == media.StageHTTPSource:
			fmt.Fprintf(&b, "  %q [label=\"%s\\nlocation=%s\"];\n", el, el, location)
		case s == media.StageCapsFilter || s == media.StagePushSource:
			fmt.Fprintf(&b, "  %q [label=\"%s\\n%s\"];\n", el, el, caps)
		}
	}
	fmt.Fprintf(&b, "  %s;\n}\n", strings.Join(names, " -> "))
	return b.String()
}

// Close drives the pipeline to NULL and releases it.
func (p *Pipeline) Close() error {
	p.SetState(media.StateNull)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// streaming is the control block of one streaming goroutine.
type streaming struct {
	ctx  context.Context
	src  *source
	caps audio.PCMFormat
	gate *gate

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func newStreaming(ctx context.Context, src *source, caps audio.PCMFormat) *streaming {
	return &streaming{
		ctx:  ctx,
		src:  src,
		caps: caps,
		gate: newGate(),
		done: make(chan struct{}),
	}
}

// begin reports whether the caller should launch the goroutine.
func (s *streaming) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	return true
}

func (s *streaming) finish() {
	close(s.done)
}

// wait blocks until the goroutine exits, if it was started.
func (s *streaming) wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// gate blocks the streaming goroutine while the pipeline is PAUSED.
type gate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	open     bool
	canceled bool
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) set(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = open
	g.cond.Broadcast()
}

func (g *gate) cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = true
	g.cond.Broadcast()
}

// wait returns false once the gate is canceled.
func (g *gate) wait() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.open && !g.canceled {
		g.cond.Wait()
	}
	return !g.canceled
}
