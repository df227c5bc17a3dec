// Package broadcast fans accepted-event and resize messages out to live SSE
// subscribers. Delivery is best-effort: each subscriber owns a bounded
// buffer, overflow drops the oldest messages and marks the subscriber lagged
// so the SSE layer can tell the client to refetch the canvas. Publishers
// never block.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const defaultBufferSize = 256

// PixelAccepted announces one committed placement.
type PixelAccepted struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Color    int    `json:"color"`
	UserPK   string `json:"user_pk"`
	PlacedAt int64  `json:"placed_at"`
}

// CanvasResized announces a canvas growth step.
type CanvasResized struct {
	OldSize int `json:"old_size"`
	NewSize int `json:"new_size"`
}

// Message is either a pixel or a resize announcement.
type Message struct {
	Pixel  *PixelAccepted
	Resize *CanvasResized
}

// EventName returns the SSE event name for the message.
func (m Message) EventName() string {
	if m.Resize != nil {
		return "resize"
	}
	return "pixel"
}

// Subscriber is one live fan-out handle.
type Subscriber struct {
	id     string
	stream chan Message
	lagged atomic.Bool
}

// Stream returns the subscriber's message channel. It is closed when the
// dispatcher shuts down.
func (s *Subscriber) Stream() <-chan Message {
	return s.stream
}

// Lagged reports whether the subscriber overflowed and lost messages.
func (s *Subscriber) Lagged() bool {
	return s.lagged.Load()
}

// Dispatcher is the in-process pub/sub hub.
type Dispatcher struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	bufferSize  int
	closed      bool
}

// NewDispatcher constructs a dispatcher with the default per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a new subscriber. It returns a nil subscriber when the
// dispatcher has shut down. The cancel function removes the subscriber; it is
// safe to call more than once.
func (d *Dispatcher) Subscribe() (*Subscriber, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, func() {}
	}
	subscriber := &Subscriber{
		id:     uuid.NewString(),
		stream: make(chan Message, d.bufferSize),
	}
	d.subscribers[subscriber.id] = subscriber
	return subscriber, func() { d.unsubscribe(subscriber.id) }
}

func (d *Dispatcher) unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}

// Publish delivers the message to every live subscriber without blocking.
// A full buffer sheds its oldest message and flags the subscriber as lagged.
func (d *Dispatcher) Publish(message Message) {
	d.mu.Lock()
	copies := make([]*Subscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.Unlock()

	for _, subscriber := range copies {
		for {
			select {
			case subscriber.stream <- message:
			default:
				subscriber.lagged.Store(true)
				select {
				case <-subscriber.stream:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

// Close stops accepting new subscribers and closes every live stream.
// Publish must not be called after Close.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, subscriber := range d.subscribers {
		close(subscriber.stream)
		delete(d.subscribers, id)
	}
}
