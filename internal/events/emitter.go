package events

import (
	"sync"
	"sync/atomic"
)

// Emitter fans events out to its subscribers.
//
// The zero value is not usable; create one with NewEmitter.
type Emitter struct {
	mu     sync.RWMutex
	subs   []*Subscription
	relays map[*Emitter]*Subscription
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{relays: make(map[*Emitter]*Subscription)}
}

// Subscription is the handle returned by Subscribe and Relay.
type Subscription struct {
	owner   *Emitter
	handler Handler
	names   map[Name]bool // nil means every name
	relayTo *Emitter
	active  atomic.Bool
	once    sync.Once
}

// Cancel detaches the subscription. It is safe to call more than once and
// from inside a handler.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.active.Store(false)
		s.owner.remove(s)
	})
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

func (s *Subscription) wants(name Name) bool {
	return s.names == nil || s.names[name]
}

// Subscribe registers h for the given names, or for every name when none
// are given.
func (e *Emitter) Subscribe(h Handler, names ...Name) *Subscription {
	sub := &Subscription{owner: e, handler: h}
	if len(names) > 0 {
		sub.names = make(map[Name]bool, len(names))
		for _, n := range names {
			sub.names[n] = true
		}
	}
	sub.active.Store(true)

	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()
	return sub
}

// Emit delivers an event to every active subscriber in registration order.
// Handlers may subscribe, cancel or emit from inside a handler. Events
// emitted from one goroutine arrive in emission order.
func (e *Emitter) Emit(name Name, payload any) {
	e.mu.RLock()
	subs := make([]*Subscription, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, sub := range subs {
		if sub.Active() && sub.wants(name) {
			sub.handler(ev)
		}
	}
}

// ListenerCount returns the number of active subscriptions, relays included.
func (e *Emitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Emitter) remove(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subs {
		if s == sub {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			break
		}
	}
	if sub.relayTo != nil && e.relays[sub.relayTo] == sub {
		delete(e.relays, sub.relayTo)
	}
}
