package events

// RelayOption configures a relay.
type RelayOption func(*relayConfig)

type relayConfig struct {
	tap   func(Event)
	names []Name
}

// WithTap runs fn for every relayed event before it reaches the destination.
func WithTap(fn func(Event)) RelayOption {
	return func(c *relayConfig) { c.tap = fn }
}

// WithNames restricts the relay to the given names instead of All.
func WithNames(names ...Name) RelayOption {
	return func(c *relayConfig) { c.names = names }
}

// Relay forwards e's events to dst with their payloads unchanged.
//
// Only one relay may exist per (e, dst) pair. Calling Relay again while
// the first is active returns the existing subscription and ignores opts.
// After that subscription is cancelled a new relay may be registered.
func (e *Emitter) Relay(dst *Emitter, opts ...RelayOption) *Subscription {
	cfg := relayConfig{names: All}
	for _, opt := range opts {
		opt(&cfg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.relays[dst]; ok && existing.Active() {
		return existing
	}

	tap := cfg.tap
	sub := &Subscription{
		owner:   e,
		relayTo: dst,
		names:   make(map[Name]bool, len(cfg.names)),
		handler: func(ev Event) {
			if tap != nil {
				tap(ev)
			}
			dst.Emit(ev.Name, ev.Payload)
		},
	}
	for _, n := range cfg.names {
		sub.names[n] = true
	}
	sub.active.Store(true)

	e.subs = append(e.subs, sub)
	e.relays[dst] = sub
	return sub
}

// IsRelayingTo reports whether an active relay from e to dst exists.
func (e *Emitter) IsRelayingTo(dst *Emitter) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sub, ok := e.relays[dst]
	return ok && sub.Active()
}
