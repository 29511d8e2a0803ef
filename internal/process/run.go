package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunOptions configures a one-shot command.
type RunOptions struct {
	Env     []string
	WorkDir string
	// OnLine receives each non-empty output line as it arrives.
	OnLine func(line string)
}

// Run executes binary to completion and returns its non-empty output lines
// (stdout and stderr interleaved in arrival order). It is used for
// commands such as "version" or "init" that are not long-running.
//
// The returned error wraps the exit status when the command fails; the
// collected lines are returned either way.
func Run(ctx context.Context, binary string, args []string, opts RunOptions) ([]string, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // Binary comes from the plugin's own release cache
	if opts.Env != nil {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Binary: binary, Err: err}
	}

	var (
		mu    sync.Mutex
		lines []string
	)
	collect := func(r io.Reader) error {
		return forEachLine(r, func(raw string) {
			line := strings.TrimRight(raw, "\r")
			if strings.TrimSpace(line) == "" {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, line)
			if opts.OnLine != nil {
				opts.OnLine(line)
			}
		})
	}

	var g errgroup.Group
	g.Go(func() error { return collect(stdout) })
	g.Go(func() error { return collect(stderr) })
	readErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		return lines, fmt.Errorf("running %s: %w", binary, err)
	}
	if readErr != nil {
		return lines, fmt.Errorf("reading output of %s: %w", binary, readErr)
	}
	return lines, nil
}
