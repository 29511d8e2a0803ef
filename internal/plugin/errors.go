package plugin

import (
	"errors"

	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/rpc"
)

var (
	// ErrConfig is returned when a descriptor lacks a required field.
	ErrConfig = errors.New("plugin: invalid descriptor")

	// ErrNoReleaseFound is returned when no selected, cached or remote
	// release can be resolved.
	ErrNoReleaseFound = errors.New("plugin: no release found")

	// ErrBinaryNotFound is returned when the executable cannot be located
	// in the release package.
	ErrBinaryNotFound = errors.New("plugin: binary not found")

	// ErrBinaryInUse is returned when an existing binary at the
	// materialization path cannot be removed.
	ErrBinaryInUse = errors.New("plugin: binary in use")

	// ErrNotFound is returned by the registry for unknown plugin names.
	ErrNotFound = errors.New("plugin: not found")

	// ErrDuplicate is returned when registering a second plugin with the
	// same name.
	ErrDuplicate = errors.New("plugin: already registered")

	// ErrAlreadyRunning is returned by Start while a start is in flight or
	// the process is running.
	ErrAlreadyRunning = process.ErrAlreadyRunning

	// ErrNoActiveProcess is carried in rpc.Result when nothing is running.
	ErrNoActiveProcess = rpc.ErrNoActiveProcess
)

// ProcessStartError wraps the OS error of a failed spawn.
type ProcessStartError = process.StartError
