package softpipe

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/sysaudio/internal/domain/audio"
)

// appSource is the push input of a pipeline. Push blocks while more than
// maxBytes are queued; every waiter is released when the source flushes.
type appSource struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	maxBytes int
	caps     audio.PCMFormat
	flushing bool
}

func newAppSource(maxBytes int) *appSource {
	a := &appSource{maxBytes: maxBytes, flushing: true}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// SetCaps sets the format of pushed data. It applies from the next start.
func (a *appSource) SetCaps(format audio.PCMFormat) error {
	if err := checkCaps(format); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caps = format
	return nil
}

func (a *appSource) currentCaps() audio.PCMFormat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

// Push queues chunk. It fails with ErrFlushing when the pipeline is not
// prerolled or is being torn down.
func (a *appSource) Push(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for !a.flushing && a.buf.Len() > 0 && a.buf.Len()+len(chunk) > a.maxBytes {
		a.cond.Wait()
	}
	if a.flushing {
		return ErrFlushing
	}
	a.buf.Write(chunk)
	a.cond.Broadcast()
	return nil
}

// Read blocks until data is queued or the source flushes.
func (a *appSource) Read(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.buf.Len() == 0 && !a.flushing {
		a.cond.Wait()
	}
	if a.flushing {
		return 0, errors.WithStack(ErrFlushing)
	}
	n, _ := a.buf.Read(p)
	a.cond.Broadcast()
	return n, nil
}

// setFlushing discards queued data when enabled and wakes every waiter.
func (a *appSource) setFlushing(flushing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushing = flushing
	if flushing {
		a.buf.Reset()
	}
	a.cond.Broadcast()
}

func (a *appSource) queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}
