package bridge

import "errors"

var (
	// ErrNoSinks is returned by New when neither MQTT nor metrics are configured.
	ErrNoSinks = errors.New("bridge: no MQTT client or metrics writer configured")

	// ErrUnknownAction is reported in the ack of a command with an unsupported action.
	ErrUnknownAction = errors.New("bridge: unknown command action")
)
