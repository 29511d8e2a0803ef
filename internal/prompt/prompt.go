// Package prompt asks a human for permission before a plugin starts.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Request describes the start being approved.
type Request struct {
	App    string
	Plugin string
	Flags  []string
}

// Prompter returns true when the start is approved.
type Prompter interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// Func adapts a function to Prompter.
type Func func(ctx context.Context, req Request) (bool, error)

// Approve implements Prompter.
func (f Func) Approve(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves every request. Used for headless deployments and
// when the command was issued through an authenticated channel.
type AutoApprove struct{}

// Approve implements Prompter.
func (AutoApprove) Approve(context.Context, Request) (bool, error) {
	return true, nil
}

// Terminal asks on an interactive terminal and reads a y/N answer.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// Approve implements Prompter. Anything other than "y" or "yes" denies.
func (t Terminal) Approve(ctx context.Context, req Request) (bool, error) {
	app := req.App
	if app == "" {
		app = "mircc"
	}
	flags := strings.Join(req.Flags, " ")
	if flags == "" {
		flags = "(no flags)"
	}
	if _, err := fmt.Fprintf(t.Out, "%s wants to start %s with: %s\nAllow? [y/N] ", app, req.Plugin, flags); err != nil {
		return false, fmt.Errorf("writing prompt: %w", err)
	}

	answer := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(t.In).ReadString('\n')
		if err != nil && line == "" {
			errc <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errc:
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("reading answer: %w", err)
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
