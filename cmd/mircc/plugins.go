package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/plugin"
	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/release"
)

// cliSource tags audit entries made by the one-shot commands.
const cliSource = "cli"

func newReleasesCommand(opts *rootOptions) *cobra.Command {
	var (
		cached   bool
		download string
		selected string
	)
	cmd := &cobra.Command{
		Use:   "releases <plugin>",
		Short: "List, download or select releases of a plugin",
		Example: `  # List cached and remote releases
  mircc releases mir

  # Download a release into the cache
  mircc releases mir --download 1.4.0

  # Pin the release used by future starts
  mircc releases mir --select 1.4.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, cmd.ErrOrStderr(), cliSource, nil)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			x, err := e.registry.Get(args[0])
			if err != nil {
				return err
			}

			switch {
			case download != "":
				rel, err := downloadVersion(ctx, x, download, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s %s to %s\n", x.Name(), rel.Version, rel.Location)
				return nil
			case selected != "":
				rel, err := findCachedVersion(ctx, x, selected)
				if err != nil {
					return err
				}
				if err := x.SetSelectedRelease(ctx, *rel); err != nil {
					return fmt.Errorf("selecting release: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "selected %s %s\n", x.Name(), rel.Version)
				return nil
			}

			var rels []release.Release
			if cached {
				rels, err = x.GetCachedReleases(ctx)
			} else {
				rels, err = x.GetReleases(ctx)
			}
			if err != nil {
				return fmt.Errorf("listing releases: %w", err)
			}
			current, err := x.GetSelectedRelease(ctx)
			if err != nil {
				return fmt.Errorf("reading selected release: %w", err)
			}
			return printReleases(cmd.OutOrStdout(), rels, current)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "only list releases in the local cache")
	cmd.Flags().StringVar(&download, "download", "", "download `version` into the cache")
	cmd.Flags().StringVar(&selected, "select", "", "pin cached `version` for future starts")
	cmd.MarkFlagsMutuallyExclusive("download", "select")
	return cmd
}

// printReleases writes rels as a table, marking the selected release.
func printReleases(w io.Writer, rels []release.Release, selected *release.Release) error {
	if len(rels) == 0 {
		_, err := fmt.Fprintln(w, "no releases found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tVERSION\tSOURCE\tNAME")
	for _, r := range rels {
		mark := ""
		if selected != nil && selected.Location == r.Location {
			mark = "*"
		}
		source := "cached"
		if r.Remote {
			source = "remote"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, r.Version, source, r.Name)
	}
	return tw.Flush()
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var releaseVersion string
	cmd := &cobra.Command{
		Use:   "run <plugin> [-- flags...]",
		Short: "Start a plugin in the foreground and stream its output",
		Long: `Start a plugin and print its output until it exits or the command is
interrupted, at which point the plugin is stopped. Flags after "--" are passed
to the node; without them the descriptor's settings are used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, cmd.ErrOrStderr(), cliSource, nil)
			if err != nil {
				return err
			}
			defer e.close(context.WithoutCancel(ctx))

			x, err := e.registry.Get(args[0])
			if err != nil {
				return err
			}

			var rel *release.Release
			if releaseVersion != "" {
				if rel, err = downloadVersion(ctx, x, releaseVersion, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return runForeground(ctx, x, nodeFlags(cmd, args), rel, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&releaseVersion, "release", "", "run `version`, downloading it if needed")
	return cmd
}

func newExecCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <plugin> -- args...",
		Short: "Run the plugin binary once with the given arguments",
		Example: `  # Print the node version
  mircc exec mir -- version`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, cmd.ErrOrStderr(), cliSource, nil)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			x, err := e.registry.Get(args[0])
			if err != nil {
				return err
			}
			lines, err := x.Execute(ctx, args[1:])
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return err
		},
	}
}

// nodeFlags returns the arguments after the plugin name, or nil when there
// are none so the descriptor's settings apply.
func nodeFlags(cmd *cobra.Command, args []string) []string {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 && dash < len(args) {
		return args[dash:]
	}
	if len(args) > 1 {
		return args[1:]
	}
	return nil
}

// runForeground starts x and blocks until the process stops or ctx ends.
func runForeground(ctx context.Context, x *plugin.Proxy, flags []string, rel *release.Release, stdout, stderr io.Writer) error {
	out := &syncWriter{w: stdout}
	errOut := &syncWriter{w: stderr}

	exited := make(chan struct{})
	var (
		once    sync.Once
		started bool
		mu      sync.Mutex
	)
	sub := x.Subscribe(func(ev events.Event) {
		switch ev.Name {
		case events.Log:
			fmt.Fprintln(out, ev.Payload)
		case events.PluginError:
			if rec, ok := ev.Payload.(events.ErrorRecord); ok {
				fmt.Fprintf(errOut, "error: %s\n", rec.Message)
			}
		case events.NewState:
			state, _ := ev.Payload.(string)
			fmt.Fprintf(errOut, "%s: %s\n", x.Name(), state)
			mu.Lock()
			defer mu.Unlock()
			switch process.State(state) {
			case process.StateStarting, process.StateRunning:
				started = true
			case process.StateStopped:
				if started {
					once.Do(func() { close(exited) })
				}
			}
		}
	}, events.Log, events.PluginError, events.NewState)
	defer sub.Cancel()

	if err := x.Start(ctx, flags, rel); err != nil {
		return err
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return x.Stop(stopCtx)
	}
}

// downloadVersion returns the cached release of want, downloading it
// first when only a remote one exists.
func downloadVersion(ctx context.Context, x *plugin.Proxy, want string, progress io.Writer) (*release.Release, error) {
	rels, err := x.GetReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	var remote *release.Release
	for i := range rels {
		if rels[i].Version != want {
			continue
		}
		if !rels[i].Remote {
			return &rels[i], nil
		}
		if remote == nil {
			remote = &rels[i]
		}
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: %s %s", plugin.ErrNoReleaseFound, x.Name(), want)
	}

	report := func(label string) func(release.Progress) {
		last := -10.0
		return func(p release.Progress) {
			pct := p.Percent()
			if pct < 0 || (pct-last < 10 && pct < 100) {
				return
			}
			last = pct
			fmt.Fprintf(progress, "%s %s: %3.0f%%\n", label, remote.Name, pct)
		}
	}
	return x.Download(ctx, *remote, report("downloading"), report("extracting"))
}

// findCachedVersion returns the cached release of want.
func findCachedVersion(ctx context.Context, x *plugin.Proxy, want string) (*release.Release, error) {
	rels, err := x.GetCachedReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cached releases: %w", err)
	}
	for i := range rels {
		if rels[i].Version == want {
			return &rels[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s is not cached", plugin.ErrNoReleaseFound, x.Name(), want)
}

// syncWriter serialises writes from event handlers on different goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
