package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// Counter issues request ids. It is never reset, so ids stay unique across
// process restarts of the same plugin.
type Counter struct {
	n atomic.Int64
}

// Next returns the next id, starting at 1.
func (c *Counter) Next() int64 {
	return c.n.Add(1)
}

// Channel correlates requests written to a child's stdin with responses
// read from its stdout. One Channel lives exactly as long as one process.
type Channel struct {
	w io.Writer

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
}

// NewChannel creates a Channel writing newline-terminated messages to w.
func NewChannel(w io.Writer) *Channel {
	return &Channel{
		w:       w,
		pending: make(map[string]chan *Response),
	}
}

// Call writes msg and, for requests, waits for the matching response or for
// ctx to end. There is no built-in timeout; callers bound the wait with ctx.
func (c *Channel) Call(ctx context.Context, msg *Message) Result {
	if msg.IsReply() {
		if err := c.write(msg); err != nil {
			return Failed(err)
		}
		return Result{Sent: true}
	}
	if msg.Method == "" {
		return Failed(ErrMissingMethod)
	}

	key := idKey(msg.ID)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Failed(ErrChannelClosed)
	}
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.write(msg); err != nil {
		return Failed(err)
	}

	select {
	case <-ctx.Done():
		return Result{Err: ctx.Err(), Sent: true, Elapsed: time.Since(start)}
	case resp, ok := <-ch:
		if !ok {
			return Result{Err: ErrChannelClosed, Sent: true, Elapsed: time.Since(start)}
		}
		return Result{Response: resp, Sent: true, Elapsed: time.Since(start)}
	}
}

// Deliver routes a response line to its waiting caller. It reports whether
// a caller was waiting for that id.
func (c *Channel) Deliver(line []byte) bool {
	key := idKey([]byte(gjson.GetBytes(line, "id").Raw))

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		resp = Response{
			JSONRPC: Version,
			Error:   &Error{Code: -32700, Message: "parse error: " + err.Error()},
		}
	}
	ch <- &resp
	return true
}

// Pending returns the number of requests awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every waiting call with ErrChannelClosed and rejects new ones.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
}

func (c *Channel) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: encoding message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("rpc: writing message: %w", err)
	}
	return nil
}
