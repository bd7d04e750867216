package softpipe

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

var ErrOutputClosed = errors.New("output stream closed")

// Output is the audio device a sink stage writes to.
type Output interface {
	// Format is the device format; sinks convert to it.
	Format() audio.PCMFormat
	Open() (OutputStream, error)
}

// OutputStream is one pipeline's connection to the device.
type OutputStream interface {
	// Write blocks while the device buffer is full.
	io.Writer
	Pause()
	Resume()
	SetVolume(volume float64)
	// Drain blocks until written audio has been played.
	Drain()
	Close() error
}

// DiscardOutput consumes audio instantly. It keeps per-stream totals so
// tests and dry runs can observe what was played.
type DiscardOutput struct {
	format audio.PCMFormat

	mu      sync.Mutex
	streams []*DiscardStream
	openErr error
}

var _ Output = (*DiscardOutput)(nil)

// NewDiscardOutput creates a discard output reporting format.
func NewDiscardOutput(format audio.PCMFormat) *DiscardOutput {
	return &DiscardOutput{format: format}
}

// Format implements Output.
func (o *DiscardOutput) Format() audio.PCMFormat {
	return o.format
}

// FailOpen makes the next Open calls fail with err; nil restores normal
// behaviour.
func (o *DiscardOutput) FailOpen(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

// Open implements Output.
func (o *DiscardOutput) Open() (OutputStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	s := &DiscardStream{volume: 1}
	o.streams = append(o.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (o *DiscardOutput) Streams() []*DiscardStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*DiscardStream(nil), o.streams...)
}

// DiscardStream records what a pipeline wrote.
type DiscardStream struct {
	mu      sync.Mutex
	data    []byte
	volume  float64
	paused  bool
	drained bool
	closed  bool
}

// Write implements io.Writer.
func (s *DiscardStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrOutputClosed
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *DiscardStream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *DiscardStream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *DiscardStream) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
}

func (s *DiscardStream) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = true
}

func (s *DiscardStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Bytes returns a copy of everything written.
func (s *DiscardStream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Volume returns the last volume set.
func (s *DiscardStream) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Paused reports whether the stream is paused.
func (s *DiscardStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Drained reports whether Drain was called.
func (s *DiscardStream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// Closed reports whether the stream was closed.
func (s *DiscardStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
