package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nullwarden/warden/pkg/metrics"
)

// Kind is the type of a healing event.
type Kind string

const (
	KindRestart           Kind = "restart"
	KindQuarantine        Kind = "quarantine"
	KindAutoUnquarantine  Kind = "auto_unquarantine"
	KindAutoMonitor       Kind = "auto_monitor"
	KindExternalRestart   Kind = "external_restart"
	KindHealthCheckFailed Kind = "health_check_failed"
)

// Status is the outcome carried on an event.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
	StatusQuarantined Status = "quarantined"
	StatusEnabled    Status = "enabled"
)

// Event is an append-only record of something the core did or observed.
// ID is a unique identifier stamped by Publish so downstream sinks (the
// webhook dispatcher, an operator piping /api/v1/events through a log
// aggregator) can deduplicate a redelivered event.
type Event struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	StableID      string            `json:"stable_id"`
	ContainerName string            `json:"container_name"`
	Kind          Kind              `json:"kind"`
	RestartCount  int               `json:"restart_count"`
	Status        Status            `json:"status"`
	Message       string            `json:"message"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker is a bounded, single-consumer event bus. Producers never block on
// a slow subscriber; a full subscriber buffer drops the event for that
// subscriber only.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues an event for dispatch. Never blocks past broker shutdown.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		metrics.EventsDropped.Inc()
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
			metrics.EventsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
