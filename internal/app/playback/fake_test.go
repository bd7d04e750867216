package playback

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/app/eventloop"
	"github.com/osa030/sysaudio/internal/domain/audio"
	"github.com/osa030/sysaudio/internal/domain/media"
)

// timeline records pushes and events in the order they happened.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(entry string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, entry)
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

func (tl *timeline) events() []EventType {
	var out []EventType
	for _, e := range tl.snapshot() {
		for ev := EventPlaybackStarted; ev <= EventNeedData; ev++ {
			if e == "event:"+ev.String() {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (tl *timeline) count(entry string) int {
	n := 0
	for _, e := range tl.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

func (tl *timeline) index(entry string) int {
	for i, e := range tl.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeInput struct {
	tl   *timeline
	hold chan struct{}

	mu      sync.Mutex
	entered int
	data    []byte
	caps    audio.PCMFormat
}

func (in *fakeInput) SetCaps(format audio.PCMFormat) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.caps = format
	return nil
}

func (in *fakeInput) Push(chunk []byte) error {
	in.mu.Lock()
	in.entered++
	in.mu.Unlock()
	if in.hold != nil {
		<-in.hold
	}
	in.mu.Lock()
	in.data = append(in.data, chunk...)
	in.mu.Unlock()
	in.tl.add(fmt.Sprintf("push:%d", len(chunk)))
	return nil
}

func (in *fakeInput) pushed() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]byte(nil), in.data...)
}

func (in *fakeInput) enteredCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.entered
}

// fakePipeline walks adjacent states and posts a StateChanged message per
// step. In manual mode state requests are only recorded.
type fakePipeline struct {
	id     string
	bus    media.Bus
	topo   media.Topology
	input  *fakeInput
	manual bool

	mu        sync.Mutex
	state     media.State
	requested []media.State
	fail      map[media.State]bool
	location  string
	caps      audio.PCMFormat
	volume    float64
	duration  time.Duration
	closed    bool
}

func (f *fakePipeline) ID() string { return f.id }

func (f *fakePipeline) SetState(target media.State) media.StateChangeReturn {
	f.mu.Lock()
	f.requested = append(f.requested, target)
	if f.fail[target] {
		f.mu.Unlock()
		return media.StateChangeFailure
	}
	if f.manual {
		f.mu.Unlock()
		return media.StateChangeAsync
	}
	var steps [][2]media.State
	for f.state != target {
		old := f.state
		if target > f.state {
			f.state++
		} else {
			f.state--
		}
		steps = append(steps, [2]media.State{old, f.state})
	}
	f.mu.Unlock()

	for _, s := range steps {
		f.post(s[0], s[1])
	}
	return media.StateChangeSuccess
}

func (f *fakePipeline) post(old, next media.State) {
	f.bus.Post(f.id, media.Message{
		Type:         media.MessageStateChanged,
		Source:       f.id,
		FromPipeline: true,
		OldState:     old,
		NewState:     next,
	})
}

func (f *fakePipeline) GetState(time.Duration) (media.State, media.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.state
}

func (f *fakePipeline) SetLocation(locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = locator
	return nil
}

func (f *fakePipeline) SetCaps(format audio.PCMFormat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = format
	return nil
}

func (f *fakePipeline) PushInput() media.PushInput {
	if f.input == nil {
		return nil
	}
	return f.input
}

func (f *fakePipeline) SetVolume(volume float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = volume
}

func (f *fakePipeline) QueryDuration() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration, f.duration > 0
}

func (f *fakePipeline) Describe() string {
	return "digraph pipeline { " + f.topo.String() + " }"
}

func (f *fakePipeline) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePipeline) currentState() media.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePipeline) currentVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

func (f *fakePipeline) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBuilder struct {
	tl     *timeline
	fail   bool
	manual bool
	hold   chan struct{}

	mu        sync.Mutex
	pipelines []*fakePipeline
}

func (b *fakeBuilder) Build(topo media.Topology, bus media.Bus) (media.Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return nil, errors.New("link failed")
	}
	pl := &fakePipeline{
		id:     fmt.Sprintf("pipeline-%d", len(b.pipelines)),
		bus:    bus,
		topo:   topo,
		manual: b.manual,
	}
	if topo.Source() == media.StagePushSource {
		pl.input = &fakeInput{tl: b.tl, hold: b.hold}
	}
	b.pipelines = append(b.pipelines, pl)
	return pl, nil
}

func (b *fakeBuilder) builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pipelines)
}

func (b *fakeBuilder) last() *fakePipeline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pipelines[len(b.pipelines)-1]
}

type recordingGain struct {
	mu       sync.Mutex
	commands []string
}

func (s *recordingGain) SetParameters(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return nil
}

func (s *recordingGain) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type harness struct {
	loop    *eventloop.Loop
	builder *fakeBuilder
	tl      *timeline
	gain    *recordingGain
	dialer  StreamDialer
	cfg     Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tl := &timeline{}
	loop := eventloop.New()
	loop.Start()
	t.Cleanup(loop.Stop)

	cfg := DefaultConfig()
	cfg.ResetTimeout = 20 * time.Millisecond
	cfg.DestroyTimeout = 20 * time.Millisecond

	return &harness{
		loop:    loop,
		builder: &fakeBuilder{tl: tl},
		tl:      tl,
		cfg:     cfg,
	}
}

func (h *harness) newPlayer(t *testing.T, spec Spec) *Player {
	t.Helper()
	deps := Deps{
		Builder: h.builder,
		Bus:     h.loop,
		Sink: EventSinkFunc(func(_ int, event EventType) {
			h.tl.add("event:" + event.String())
		}),
		Dialer: h.dialer,
	}
	if h.gain != nil {
		deps.Gain = h.gain
	}
	p := New(spec, deps, h.cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func (h *harness) post(pl *fakePipeline, msg media.Message) {
	h.loop.Post(pl.id, msg)
	h.loop.Sync()
}

type fakeStream struct {
	handler    media.StreamHandler
	connectErr error

	mu           sync.Mutex
	locator      string
	disconnected int
}

func (s *fakeStream) Connect(locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locator = locator
	return s.connectErr
}

func (s *fakeStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
	return nil
}

func (s *fakeStream) disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}
