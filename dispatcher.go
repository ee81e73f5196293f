package pushwire

import (
	"encoding/json"
	"net/http"
	"sync"
)

// EventPayload is a single decoded topic event.
type EventPayload struct {
	// Topic is the logical channel the event arrived on.
	Topic string

	// Message is the event body, left as raw JSON for the caller to decode.
	Message json.RawMessage
}

// StatusNotice reports a connection-state change or an asynchronous error.
// Exactly one of the two is populated: state changes carry State and
// Connected (plus handshake Headers when connecting succeeded); errors
// carry Err.
type StatusNotice struct {
	State     ConnectionState
	Connected bool
	Headers   http.Header
	Err       error
}

// dispatcher fans decoded topic events and status notices out to
// registered subscribers. Delivery is best-effort: a subscriber whose
// channel is full misses the event, and subscribers registered after an
// emission never see it. There is no replay.
type dispatcher struct {
	mu     sync.Mutex
	nextID int
	events map[int]chan EventPayload
	status map[int]chan StatusNotice
	closed bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		events: make(map[int]chan EventPayload),
		status: make(map[int]chan StatusNotice),
	}
}

// subscribeEvents registers a topic-event subscriber. The returned cancel
// func removes the subscriber and closes its channel.
func (d *dispatcher) subscribeEvents(buffer int) (<-chan EventPayload, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan EventPayload, buffer)
	if d.closed {
		close(ch)
		return ch, func() {}
	}

	id := d.nextID
	d.nextID++
	d.events[id] = ch

	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.events[id]; ok {
			delete(d.events, id)
			close(sub)
		}
	}
}

// subscribeStatus registers a status-notice subscriber.
func (d *dispatcher) subscribeStatus(buffer int) (<-chan StatusNotice, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan StatusNotice, buffer)
	if d.closed {
		close(ch)
		return ch, func() {}
	}

	id := d.nextID
	d.nextID++
	d.status[id] = ch

	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.status[id]; ok {
			delete(d.status, id)
			close(sub)
		}
	}
}

// dispatch delivers a topic event to every current subscriber.
func (d *dispatcher) dispatch(payload EventPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	for _, ch := range d.events {
		select {
		case ch <- payload:
		default:
		}
	}
}

// notify delivers a status notice to every current subscriber.
func (d *dispatcher) notify(notice StatusNotice) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	for _, ch := range d.status {
		select {
		case ch <- notice:
		default:
		}
	}
}

// close shuts the dispatcher down, closing every subscriber channel.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	for id, ch := range d.events {
		delete(d.events, id)
		close(ch)
	}
	for id, ch := range d.status {
		delete(d.status, id)
		close(ch)
	}
}
