// Package events carries plugin lifecycle notifications from the process
// supervisor to the plugin and on to every observer.
//
// The event vocabulary is closed (see Name). Delivery is synchronous and
// in emission order for a given Emitter, so an observer sees a process's
// events in the order they happened.
//
// Relays forward one emitter's events into another. Relay registration is
// idempotent per (source, destination) pair, and every registration returns
// a Subscription whose Cancel may be called any number of times.
package events
