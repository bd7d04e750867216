// Package streamqueue provides the bounded buffer queue between push producers
// and the feeder of a push-source player.
package streamqueue

import "sync"

// Queue is a bounded FIFO of byte buffers.
//
// Add never blocks: a buffer offered to a full queue is dropped, which keeps
// live producers from stalling. Remove blocks until a buffer is available or
// the queue is closed.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    [][]byte
	capacity int
	closed   bool
}

// New creates a queue holding at most capacity buffers.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		items:    make([][]byte, 0, min(capacity, 64)),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add copies data into the queue. It returns false when the buffer was
// dropped because the queue is full or closed.
func (q *Queue) Add(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) >= q.capacity {
		return false
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	q.items = append(q.items, buf)
	q.cond.Signal()
	return true
}

// Remove returns the oldest buffer, blocking while the queue is empty.
// ok is false once the queue has been closed.
func (q *Queue) Remove() (data []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	data = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return data, true
}

// Clear discards every queued buffer.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([][]byte, 0, min(q.capacity, 64))
}

// Close marks the queue as closing. Pending and future Remove calls return
// immediately and Add drops everything.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true if nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull returns true if the next Add would be dropped for lack of space.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.capacity
}

// Capacity returns the maximum number of buffers.
func (q *Queue) Capacity() int {
	return q.capacity
}
