package notify

import (
	"sync"

	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// whose queue is full is dropped and its channel closed.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives events on C until it is closed or dropped.
type Subscription struct {
	C <-chan Event

	c    chan Event
	hub  *Hub
	once sync.Once
}

// Subscribe registers a new subscriber. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	c := make(chan Event, h.buffer)
	s := &Subscription{C: c, c: c, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(c) })
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close unsubscribes s and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.once.Do(func() { close(s.c) })
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers e to every subscriber.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.c <- e:
		default:
			logging.Warn("Dropping slow event subscriber", zap.Int("buffer", h.buffer))
			delete(h.subs, s)
			s.once.Do(func() { close(s.c) })
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.once.Do(func() { close(s.c) })
	}
	h.subs = make(map[*Subscription]struct{})
}

// DeviceArrived implements discovery.DeviceListener.
func (h *Hub) DeviceArrived(reg discovery.Registration) {
	h.Publish(ArrivalEvent(reg))
}

// DeviceDeparted implements discovery.DeviceListener.
func (h *Hub) DeviceDeparted(id discovery.Identity) {
	h.Publish(DepartureEvent(id))
}

// EndpointsChanged implements discovery.EndpointListener.
func (h *Hub) EndpointsChanged(id discovery.Identity, eps []discovery.Endpoint) {
	h.Publish(EndpointsEvent(id, eps))
}
