// Package events provides the named notifications a feed client publishes
// and a synchronous dispatcher for them.
//
// Handlers subscribe by name. Every handler for a name runs, in subscription
// order, on the goroutine that emits the notification.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/thunderclient/feed"
)

// Name identifies a notification.
type Name string

const (
	// Started is emitted when a start is requested; the socket may not be open yet.
	Started Name = "started"
	// Stopped is emitted when a stop is requested.
	Stopped Name = "stopped"
	// Opened is emitted when the handshake completes.
	Opened Name = "opened"
	// Closed is emitted once for every connection that ends.
	Closed Name = "closed"
	// Heartbeat is emitted for every heartbeat message.
	Heartbeat Name = "heartbeat"
	// Strike is emitted for every strike message.
	Strike Name = "strike"
	// Unauthorized is emitted when the feed rejects the credentials.
	Unauthorized Name = "unauthorized"
	// Error is emitted for transport failures and malformed frames.
	Error Name = "error"
	// Timeout is emitted before the client reconnects after a missed heartbeat.
	Timeout Name = "timeout"
)

// All lists every notification name.
var All = []Name{Started, Stopped, Opened, Closed, Heartbeat, Strike, Unauthorized, Error, Timeout}

// Event is the payload handed to handlers. Only the fields relevant to Name
// are set.
type Event struct {
	Name Name
	At   time.Time

	// ConnID identifies the connection the event belongs to, if any.
	ConnID string

	// Strike is set for Strike.
	Strike *feed.Strike

	// LastBeat is set for Heartbeat and Timeout.
	LastBeat time.Time

	// Err is set for Error, Unauthorized, and for Closed when the
	// connection ended abnormally.
	Err error
}

// Handler receives notifications.
type Handler func(Event)

// Emitter is the subscription side of a notification source.
type Emitter interface {
	// Subscribe registers h for name and returns a subscription ID.
	Subscribe(name Name, h Handler) string

	// Unsubscribe removes a subscription. It reports whether the ID was known.
	Unsubscribe(id string) bool
}

type subscription struct {
	id      string
	handler Handler
}

// Dispatcher is an Emitter that can also emit.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[Name][]subscription
}

var _ Emitter = (*Dispatcher)(nil)

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[Name][]subscription),
	}
}

// Subscribe registers h for name.
func (d *Dispatcher) Subscribe(name Name, h Handler) string {
	id := uuid.NewString()

	d.mu.Lock()
	d.subs[name] = append(d.subs[name], subscription{id: id, handler: h})
	d.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription.
func (d *Dispatcher) Unsubscribe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, subs := range d.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			// Copy so in-flight Emit snapshots are not disturbed.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(d.subs, name)
			} else {
				d.subs[name] = next
			}
			return true
		}
	}
	return false
}

// Count returns the number of handlers subscribed to name.
func (d *Dispatcher) Count(name Name) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name])
}

// Emit delivers ev to every handler subscribed to ev.Name, in order, on the
// calling goroutine. A zero At is set to now.
func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	d.mu.RLock()
	subs := d.subs[ev.Name]
	d.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
