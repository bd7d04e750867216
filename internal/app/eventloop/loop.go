// Package eventloop provides the process-wide bus dispatch loop.
//
// Pipelines post messages from any goroutine; a single dispatch goroutine
// delivers them to the handler watching the posting pipeline, in post order.
package eventloop

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/domain/media"
)

type envelope struct {
	pipelineID string
	msg        media.Message
	fn         func()
}

// Loop dispatches bus messages on one goroutine.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []envelope
	watches map[string]media.Handler

	started bool
	stopped bool
	done    chan struct{}
}

// New creates a loop. Call Start before posting.
func New() *Loop {
	l := &Loop{
		watches: make(map[string]media.Handler),
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Start launches the dispatch goroutine. Subsequent calls do nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
	zlog.Debug().Msg("eventloop: started")
}

// Stop stops dispatching and waits for the loop goroutine to exit.
// Undelivered messages are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	dropped := len(l.pending)
	l.pending = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	if started {
		<-l.done
	}
	zlog.Debug().Msgf("eventloop: stopped: dropped=%d", dropped)
}

// Post queues a message for the pipeline's watcher. It never blocks.
func (l *Loop) Post(pipelineID string, msg media.Message) {
	l.enqueue(envelope{pipelineID: pipelineID, msg: msg})
}

// Invoke runs fn on the loop goroutine after every message posted before it.
func (l *Loop) Invoke(fn func()) {
	l.enqueue(envelope{fn: fn})
}

// Sync blocks until every message posted before the call has been handled.
// It returns immediately when the loop is not running.
func (l *Loop) Sync() {
	l.mu.Lock()
	running := l.started && !l.stopped
	l.mu.Unlock()
	if !running {
		return
	}

	ch := make(chan struct{})
	l.Invoke(func() { close(ch) })
	select {
	case <-ch:
	case <-l.done:
	}
}

// Watch installs the handler for a pipeline, replacing any previous one.
func (l *Loop) Watch(pipelineID string, h media.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watches[pipelineID] = h
}

// Unwatch removes the pipeline's handler. Queued messages for it are dropped
// when they reach the front of the queue.
func (l *Loop) Unwatch(pipelineID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.watches, pipelineID)
}

func (l *Loop) enqueue(e envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.pending = append(l.pending, e)
	l.cond.Signal()
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			l.mu.Unlock()
			return
		}
		e := l.pending[0]
		l.pending[0] = envelope{}
		l.pending = l.pending[1:]
		var h media.Handler
		if e.fn == nil {
			h = l.watches[e.pipelineID]
		}
		l.mu.Unlock()

		// Handlers run without the lock so they can re-enter the loop.
		switch {
		case e.fn != nil:
			e.fn()
		case h != nil:
			h(e.msg)
		}
	}
}
