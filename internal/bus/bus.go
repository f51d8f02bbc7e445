package bus

import (
	"github.com/google/uuid"
)

// subscriberBuffer bounds each subscriber's inbox. A subscriber that falls
// this far behind starts losing events; delivery is best-effort by contract.
const subscriberBuffer = 64

// frame pairs an event with the subscription that published it so the hub
// can skip echoing it back to its origin.
type frame struct {
	origin *Subscription
	event  Event
}

// Subscription is one attachment to the bus. Events published by other
// subscribers arrive on Events; the subscription never receives its own.
type Subscription struct {
	id     string
	events chan Event
	bus    *Bus
}

// Events returns the receive channel for this subscription.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Publish broadcasts an event to every other subscriber. Publishing on a
// closed bus is a no-op.
func (s *Subscription) Publish(ev Event) {
	select {
	case s.bus.broadcast <- frame{origin: s, event: ev}:
	case <-s.bus.done:
	}
}

// Close detaches the subscription; its Events channel is closed by the hub.
func (s *Subscription) Close() {
	select {
	case s.bus.unregister <- s:
	case <-s.bus.done:
	}
}

// Bus is an in-process broadcast channel: every subscriber sees every event
// published by any other subscriber, fire-and-forget, FIFO per publisher.
// Cross-process delivery is layered on via Bridge.
type Bus struct {
	// Attached subscriptions.
	subs map[*Subscription]bool

	// Inbound frames from subscribers.
	broadcast chan frame

	// Register requests from new subscribers.
	register chan *Subscription

	// Unregister requests from closing subscribers.
	unregister chan *Subscription

	done chan struct{}
}

func New() *Bus {
	b := &Bus{
		subs:       make(map[*Subscription]bool),
		broadcast:  make(chan frame),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe attaches a new subscription to the bus. On a closed bus the
// subscription comes back already closed.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		events: make(chan Event, subscriberBuffer),
		bus:    b,
	}
	select {
	case b.register <- s:
	case <-b.done:
		close(s.events)
	}
	return s
}

// Close shuts the hub down and closes every subscription channel.
func (b *Bus) Close() {
	close(b.done)
}

func (b *Bus) run() {
	for {
		select {
		case s := <-b.register:
			b.subs[s] = true
		case s := <-b.unregister:
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.events)
			}
		case f := <-b.broadcast:
			for s := range b.subs {
				if s == f.origin {
					continue
				}
				select {
				case s.events <- f.event:
				default:
					// Slow subscriber; drop rather than block the hub.
				}
			}
		case <-b.done:
			for s := range b.subs {
				delete(b.subs, s)
				close(s.events)
			}
			return
		}
	}
}
