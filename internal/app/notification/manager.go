// Package notification fans playback events out to subscribers.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/sysaudio/internal/app/playback"
)

// Notification is one playback event as delivered to subscribers.
type Notification struct {
	SequenceNo uint64
	ObjectID   int
	Event      playback.EventType
	Time       time.Time
}

// Stream represents a notification stream for a subscriber.
// Send is called on the emitting goroutine and must not block.
type Stream interface {
	Send(n Notification) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(n Notification) error

// Send calls f.
func (f StreamFunc) Send(n Notification) error {
	return f(n)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
// It implements playback.EventSink.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	order         []string

	// sendMu keeps sequence numbers and delivery order aligned.
	sendMu     sync.Mutex
	sequenceNo uint64
}

var _ playback.EventSink = (*Manager)(nil)

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	m.order = append(m.order, id)
	zlog.Debug().Msgf("notification: subscribed: id=%s", id)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[subscriptionID]; !ok {
		return
	}
	delete(m.subscriptions, subscriptionID)
	for i, id := range m.order {
		if id == subscriptionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	zlog.Debug().Msgf("notification: unsubscribed: id=%s", subscriptionID)
}

// OnEvent stamps the event with the next sequence number and delivers it
// to every subscriber in subscription order.
func (m *Manager) OnEvent(objectID int, event playback.EventType) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.sequenceNo++
	n := Notification{
		SequenceNo: m.sequenceNo,
		ObjectID:   objectID,
		Event:      event,
		Time:       time.Now(),
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.order))
	for _, id := range m.order {
		subs = append(subs, m.subscriptions[id])
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.stream.Send(n); err != nil {
			zlog.Warn().Err(err).Msgf("notification: send failed: id=%s event=%s", sub.id, event)
		}
	}
}

// SequenceNo returns the sequence number of the last notification.
func (m *Manager) SequenceNo() uint64 {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
	m.order = nil
}
