package events

import (
	"sync"
	"time"
)

// EventType is the vocabulary of inbound agent events and internal
// notifications fanned out to subscribers (spec section 4.1).
type EventType string

const (
	EventStatusUpdate    EventType = "status_update"
	EventLog             EventType = "log"
	EventMetrics         EventType = "metrics"
	EventBackupComplete  EventType = "backup_complete"
	EventRestoreComplete EventType = "restore_complete"
	EventNodeHeartbeat   EventType = "node_heartbeat"
	EventNodeOffline     EventType = "node_offline"
)

// Event is one occurrence fanned out to subscribers.
type Event struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	WorkloadID string
	NodeID     string
	Message    string
	Metadata   map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes published events to all current subscribers,
// non-blocking: a slow or absent subscriber never holds up Publish.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker constructs a Broker. Call Start to begin distribution.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() { go b.run() }

func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe returns a new buffered channel that will receive future events.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for distribution. It blocks while the broker's
// 256-event queue is full, and returns without enqueueing once the broker
// is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full; drop rather than block the broker
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
