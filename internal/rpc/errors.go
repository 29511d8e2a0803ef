package rpc

import "errors"

// Sentinel errors carried in Result.Err. Check with errors.Is.
var (
	// ErrNoActiveProcess means there was no running process to talk to.
	ErrNoActiveProcess = errors.New("rpc: no active process")

	// ErrChannelClosed means the process exited before a response arrived.
	ErrChannelClosed = errors.New("rpc: channel closed")

	// ErrMissingMethod means a request was built without a method name.
	ErrMissingMethod = errors.New("rpc: method is required")
)
