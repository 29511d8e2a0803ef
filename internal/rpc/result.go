package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Result is the outcome of Channel.Call. It is always returned by value;
// callers branch on Err rather than on a second return value.
type Result struct {
	// Response is set when the child answered.
	Response *Response
	// Err is set when no response could be obtained: no process, a write
	// failure, the caller's context ending, or the channel closing.
	Err error
	// Sent reports whether the message reached the child's stdin.
	Sent bool
	// Elapsed is the time between write and response.
	Elapsed time.Duration
}

// Failed builds a Result carrying only an error.
func Failed(err error) Result {
	return Result{Err: err}
}

// OK reports whether the child answered without a JSON-RPC error, or a
// reply was delivered.
func (r Result) OK() bool {
	if r.Err != nil {
		return false
	}
	if r.Response == nil {
		return r.Sent
	}
	return r.Response.Error == nil
}

// NoActiveProcess reports whether the call failed because nothing was running.
func (r Result) NoActiveProcess() bool {
	return errors.Is(r.Err, ErrNoActiveProcess)
}

// AsError folds the transport error and the JSON-RPC error into one value.
func (r Result) AsError() error {
	if r.Err != nil {
		return r.Err
	}
	if r.Response != nil && r.Response.Error != nil {
		return r.Response.Error
	}
	return nil
}

// Decode unmarshals the response result into v.
func (r Result) Decode(v any) error {
	if err := r.AsError(); err != nil {
		return err
	}
	if r.Response == nil || len(r.Response.Result) == 0 {
		return fmt.Errorf("rpc: empty result")
	}
	return json.Unmarshal(r.Response.Result, v)
}
