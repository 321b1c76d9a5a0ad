// Package events is the in-process pub/sub registry that decouples
// connection lifecycle and inbound data from the consumers reacting to
// them.
package events

import (
	"fmt"
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Event is one published occurrence. Payload is one of the typed payloads
// in package types for hub-originated kinds, or whatever the caller of
// Emit supplied. Origin is empty for events raised in this process and
// holds the peer instance id for events relayed by a bridge.
type Event struct {
	Kind    string
	Payload any
	Origin  string
}

// Handler receives events. A returned error or a panic is logged and does
// not stop delivery to the remaining handlers.
type Handler func(ev Event) error

// Subscription identifies one On registration for Off.
type Subscription struct {
	kind string
	id   uint64
}

// Kind returns the event kind the subscription was registered for.
func (s Subscription) Kind() string { return s.kind }

type registration struct {
	id uint64
	fn Handler
}

// Dispatcher delivers events synchronously to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   uint64
	logger   zerolog.Logger
}

// New creates an empty Dispatcher.
func New(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]registration),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// On appends h to the handlers for kind. Use types.Wildcard to receive
// every event.
func (d *Dispatcher) On(kind string, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[kind] = append(d.handlers[kind], registration{id: d.nextID, fn: h})
	return Subscription{kind: kind, id: d.nextID}
}

// Off removes the registration behind sub. It reports whether anything
// was removed.
func (d *Dispatcher) Off(sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[sub.kind]
	for i, r := range regs {
		if r.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, sub.kind)
		} else {
			d.handlers[sub.kind] = next
		}
		return true
	}
	return false
}

// Emit publishes a locally raised event.
func (d *Dispatcher) Emit(kind string, payload any) {
	d.Deliver(Event{Kind: kind, Payload: payload})
}

// Deliver invokes the handlers for ev.Kind in registration order, then
// the wildcard handlers. The handler lists are captured before the first
// call, so On and Off from inside a handler only affect later deliveries.
func (d *Dispatcher) Deliver(ev Event) {
	d.mu.RLock()
	var direct []registration
	if ev.Kind != types.Wildcard {
		direct = append(direct, d.handlers[ev.Kind]...)
	}
	wild := append([]registration(nil), d.handlers[types.Wildcard]...)
	d.mu.RUnlock()

	for _, r := range direct {
		d.invoke(r.fn, ev)
	}
	for _, r := range wild {
		d.invoke(r.fn, ev)
	}
}

// HandlerCount returns the number of handlers registered for kind.
func (d *Dispatcher) HandlerCount(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}

func (d *Dispatcher) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("kind", ev.Kind).
				Err(fmt.Errorf("panic: %v", r)).
				Msg("handler panicked")
		}
	}()
	if err := h(ev); err != nil {
		d.logger.Error().Err(err).Str("kind", ev.Kind).Msg("handler error")
	}
}
