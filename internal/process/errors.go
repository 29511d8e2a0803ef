package process

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start while a process is STARTING or RUNNING.
var ErrAlreadyRunning = errors.New("process: already running")

// StartError reports that the child could not be spawned. No process
// handle is retained when it is returned.
type StartError struct {
	Binary string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("process: starting %s: %v", e.Binary, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
