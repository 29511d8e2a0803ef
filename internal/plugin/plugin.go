package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MIRChain/mir-control-center/internal/audit"
	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/preferences"
	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/prompt"
	"github.com/MIRChain/mir-control-center/internal/release"
	"github.com/MIRChain/mir-control-center/internal/rpc"
)

// Options wires a Plugin to its collaborators. Zero values fall back to
// in-memory or no-op implementations.
type Options struct {
	// Updater overrides the release collaborator built from the descriptor.
	Updater release.Updater
	// CacheRoot is the parent of the per-plugin cache directory when
	// Updater is nil.
	CacheRoot string
	// GitHub configures the remote source when Updater is nil.
	GitHub []release.GitHubOption

	Selected *preferences.SelectedReleases
	Prompter prompt.Prompter
	Audit    *audit.Recorder
	Logger   Logger

	// StopTimeout is the SIGTERM to SIGKILL grace period.
	StopTimeout time.Duration

	// Source and Metadata describe where the descriptor came from.
	Source   string
	Metadata map[string]any
}

// Plugin is the aggregate for one node client.
type Plugin struct {
	desc     Descriptor
	updater  release.Updater
	selected *preferences.SelectedReleases
	prompter prompt.Prompter
	audit    *audit.Recorder
	logger   Logger
	timeout  time.Duration
	source   string
	metadata map[string]any

	events *events.Emitter
	ledger *ErrorLedger
	ids    rpc.Counter

	mu       sync.RWMutex
	proc     *process.Supervisor
	procSub  *events.Subscription
	starting bool

	proxyOnce   sync.Once
	proxyEvents *events.Emitter
}

// New validates desc and builds a Plugin.
func New(desc Descriptor, opts Options) (*Plugin, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	updater := opts.Updater
	if updater == nil {
		updater = newUpdater(&desc, opts, logger)
	}

	selected := opts.Selected
	if selected == nil {
		selected = preferences.NewSelectedReleases(preferences.NewMemoryStore())
	}

	prompter := opts.Prompter
	if prompter == nil {
		prompter = prompt.AutoApprove{}
	}

	p := &Plugin{
		desc:     desc,
		updater:  updater,
		selected: selected,
		prompter: prompter,
		audit:    opts.Audit,
		logger:   logger,
		timeout:  opts.StopTimeout,
		source:   opts.Source,
		metadata: opts.Metadata,
		events:   events.NewEmitter(),
	}
	p.ledger = NewErrorLedger(p.events)
	return p, nil
}

func newUpdater(desc *Descriptor, opts Options, logger Logger) release.Updater {
	root := opts.CacheRoot
	if root == "" {
		root = "cache"
	}
	uopts := release.Options{
		Name:           desc.Name,
		CacheDir:       filepath.Join(root, desc.Name),
		Filter:         desc.releaseFilter(),
		ExtractPackage: desc.Unpack,
		Logger:         logger,
	}
	src, err := release.NewGitHubSource(desc.Repository, opts.GitHub...)
	if err != nil {
		logger.Warn("no remote release source; using cache only", "plugin", desc.Name, "error", err)
	} else {
		uopts.Source = src
	}
	return release.NewBinaryUpdater(uopts)
}

// Name is the unique plugin name.
func (p *Plugin) Name() string { return p.desc.Name }

func (p *Plugin) Type() string                { return p.desc.Type }
func (p *Plugin) Order() int                  { return p.desc.Order }
func (p *Plugin) Settings() []Setting         { return p.desc.Settings }
func (p *Plugin) About() *About               { return p.desc.About }
func (p *Plugin) Dependencies() *Dependencies { return p.desc.Dependencies }
func (p *Plugin) API() map[string]any         { return p.desc.API }
func (p *Plugin) Source() string              { return p.source }
func (p *Plugin) Metadata() map[string]any    { return p.metadata }
func (p *Plugin) Descriptor() Descriptor      { return p.desc }

// CacheDir is where located binaries are written.
func (p *Plugin) CacheDir() string { return p.updater.CacheDir() }

// Events carries everything the plugin and its process emit.
func (p *Plugin) Events() *events.Emitter { return p.events }

// Updater exposes the release collaborator.
func (p *Plugin) Updater() release.Updater { return p.updater }

// DisplayName falls back to Name.
func (p *Plugin) DisplayName() string {
	if p.desc.DisplayName != "" {
		return p.desc.DisplayName
	}
	return p.desc.Name
}

// DefaultConfig returns the descriptor's default setting values. It is
// never nil.
func (p *Plugin) DefaultConfig() map[string]string {
	if p.desc.Config.Default == nil {
		return map[string]string{}
	}
	return p.desc.Config.Default
}

func (p *Plugin) current() *process.Supervisor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.proc
}

// State is the state of the current process, or STOPPED if none.
func (p *Plugin) State() process.State {
	if proc := p.current(); proc != nil {
		return proc.State()
	}
	return process.StateStopped
}

// IsRunning reports whether the process is RUNNING.
func (p *Plugin) IsRunning() bool {
	return p.State() == process.StateRunning
}

// Logs returns the rolling log of the current or last process.
func (p *Plugin) Logs() []string {
	if proc := p.current(); proc != nil {
		return proc.Logs()
	}
	return []string{}
}

// IPCPath returns the endpoint announced by the process, or "".
func (p *Plugin) IPCPath() string {
	if proc := p.current(); proc != nil {
		return proc.IPCPath()
	}
	return ""
}

// Stats summarizes the current process.
func (p *Plugin) Stats() process.Stats {
	if proc := p.current(); proc != nil {
		return proc.Stats()
	}
	return process.Stats{Name: p.Name(), State: process.StateStopped}
}

// Errors returns the recorded plugin errors.
func (p *Plugin) Errors() []events.ErrorRecord {
	return p.ledger.Errors()
}

// DismissError removes records with key.
func (p *Plugin) DismissError(key string) {
	p.ledger.Dismiss(key)
}

// GetReleases lists cached and remote releases, newest first.
func (p *Plugin) GetReleases(ctx context.Context) ([]release.Release, error) {
	return p.updater.GetReleases(ctx)
}

func (p *Plugin) GetCachedReleases(ctx context.Context) ([]release.Release, error) {
	return p.updater.GetCachedReleases(ctx)
}

func (p *Plugin) GetLatestCached(ctx context.Context) (*release.Release, error) {
	return p.updater.GetLatestCached(ctx)
}

func (p *Plugin) GetLatestRemote(ctx context.Context) (*release.Release, error) {
	return p.updater.GetLatestRemote(ctx)
}

func (p *Plugin) CheckForUpdates(ctx context.Context) (*release.UpdateInfo, error) {
	return p.updater.CheckForUpdates(ctx)
}

// Download fetches rel. Packages are unpacked only when the descriptor asks
// for it.
func (p *Plugin) Download(ctx context.Context, rel release.Release, onProgress, onExtractionProgress func(release.Progress)) (*release.Release, error) {
	opts := release.DownloadOptions{OnProgress: onProgress}
	if p.desc.Unpack {
		extract := true
		opts.ExtractPackage = &extract
		opts.OnExtractionProgress = onExtractionProgress
	}
	return p.updater.Download(ctx, rel, opts)
}

// GetSelectedRelease returns the user's pinned release, or nil.
func (p *Plugin) GetSelectedRelease(ctx context.Context) (*release.Release, error) {
	return p.selected.Get(ctx, p.Name())
}

// SetSelectedRelease pins rel for future starts.
func (p *Plugin) SetSelectedRelease(ctx context.Context, rel release.Release) error {
	if err := p.selected.Set(ctx, p.Name(), rel); err != nil {
		return err
	}
	p.audit.Plugin(ctx, audit.ActionReleaseSelected, p.Name(), map[string]any{
		"version":  rel.Version,
		"location": rel.Location,
	})
	return nil
}

// RequestStart asks the Prompter before starting. A denial is not an error.
func (p *Plugin) RequestStart(ctx context.Context, app string, flags []string, rel *release.Release) error {
	p.audit.Plugin(ctx, audit.ActionStartRequested, p.Name(), map[string]any{"app": app, "flags": flags})

	ok, err := p.prompter.Approve(ctx, prompt.Request{App: app, Plugin: p.DisplayName(), Flags: flags})
	if err != nil {
		return fmt.Errorf("asking permission to start %s: %w", p.Name(), err)
	}
	if !ok {
		p.logger.Info("start denied by user", "plugin", p.Name(), "app", app)
		p.audit.Plugin(ctx, audit.ActionStartDenied, p.Name(), map[string]any{"app": app})
		return nil
	}
	p.audit.Plugin(ctx, audit.ActionStartApproved, p.Name(), map[string]any{"app": app})
	return p.Start(ctx, flags, rel)
}

// Start launches the client. With nil flags the descriptor settings are
// turned into flags; with a nil release one is determined. Filesystem and
// spawn failures are returned; once running, failures arrive as events.
func (p *Plugin) Start(ctx context.Context, flags []string, rel *release.Release) error {
	p.mu.Lock()
	if p.starting || (p.proc != nil && p.proc.State() != process.StateStopped) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, p.Name())
	}
	p.starting = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.starting = false
		p.mu.Unlock()
	}()

	err := p.start(ctx, flags, rel)
	if err != nil {
		p.logger.Error("plugin start failed", "plugin", p.Name(), "error", err)
		p.audit.Plugin(ctx, audit.ActionStartFailed, p.Name(), map[string]any{"error": err.Error()})
	}
	return err
}

func (p *Plugin) start(ctx context.Context, flags []string, rel *release.Release) error {
	if rel == nil {
		var err error
		if rel, err = p.DetermineReleaseForStart(ctx); err != nil {
			return err
		}
	}

	for _, cmd := range p.desc.BeforeStart.Execute {
		if _, err := p.Execute(ctx, strings.Fields(cmd)); err != nil {
			return fmt.Errorf("before-start command %q: %w", cmd, err)
		}
	}

	if flags == nil {
		flags = BuildFlags(p.desc.Settings, p.desc.Config.Default)
	}

	var binary string
	if p.desc.HasRuntime() {
		resolved, err := ResolvePathVariables(flags, rel.PackagePath())
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			return fmt.Errorf("%w: %s: runtime plugins need the runtime path as first flag", ErrConfig, p.Name())
		}
		binary, flags = resolved[0], resolved[1:]
	} else {
		bin, err := p.GetLocalBinary(ctx, rel)
		if err != nil {
			return err
		}
		binary = bin.BinaryPath
	}

	proc := process.New(process.Config{
		Name:             p.Name(),
		Binary:           binary,
		Env:              p.desc.Env,
		GracefulTimeout:  p.timeout,
		ResolveIPC:       p.desc.ipcResolver(),
		HandleData:       p.desc.dataHandler(),
		OnInputRequested: p.desc.inputHandler(),
	})
	proc.SetLogger(p.logger)
	sub := proc.Events().Relay(p.events, events.WithTap(p.ledger.recordEvent))

	p.mu.Lock()
	if p.procSub != nil {
		p.procSub.Cancel()
	}
	p.proc, p.procSub = proc, sub
	p.mu.Unlock()

	p.logger.Info("starting plugin", "plugin", p.Name(), "version", rel.Version, "binary", binary)
	if err := proc.Start(ctx, flags); err != nil {
		sub.Cancel()
		p.mu.Lock()
		if p.proc == proc {
			p.proc, p.procSub = nil, nil
		}
		p.mu.Unlock()
		return err
	}

	p.audit.Plugin(ctx, audit.ActionStart, p.Name(), map[string]any{
		"version": rel.Version,
		"binary":  binary,
		"pid":     proc.PID(),
	})
	return nil
}

// Stop runs the BeforeStop hook, clears the error ledger and terminates the
// process. It succeeds when nothing is running. The process is killed once
// ctx is done, even inside the StopTimeout grace period.
func (p *Plugin) Stop(ctx context.Context) error {
	if p.desc.BeforeStop != nil {
		if err := p.desc.BeforeStop(ctx); err != nil {
			p.logger.Warn("before-stop hook failed", "plugin", p.Name(), "error", err)
		}
	}

	p.ledger.Clear()

	proc := p.current()
	if proc == nil || proc.State() == process.StateStopped {
		return nil
	}
	if err := proc.StopContext(ctx); err != nil {
		return fmt.Errorf("stopping %s: %w", p.Name(), err)
	}
	p.audit.Plugin(ctx, audit.ActionStop, p.Name(), nil)
	return nil
}

// Request is a fully specified JSON-RPC exchange. A non-nil Result makes it
// a reply to a request the process sent; ID is then required.
type Request struct {
	Method string
	Params any
	ID     any
	Result any
}

// RPC sends a request with the next id from the plugin's counter.
func (p *Plugin) RPC(ctx context.Context, method string, params any) rpc.Result {
	return p.Send(ctx, Request{Method: method, Params: params})
}

// Send issues req over the process's stdio. It never panics or returns an
// error separately; every failure is carried in the Result.
func (p *Plugin) Send(ctx context.Context, req Request) rpc.Result {
	proc := p.current()
	if proc == nil || !proc.IsRunning() {
		p.logger.Debug("rpc not available, process not running", "plugin", p.Name(), "state", p.State())
		return rpc.Failed(ErrNoActiveProcess)
	}

	msg, err := p.buildMessage(req)
	if err != nil {
		return rpc.Failed(err)
	}
	return proc.Call(ctx, msg)
}

func (p *Plugin) buildMessage(req Request) (*rpc.Message, error) {
	if req.Result != nil {
		if req.ID == nil {
			return nil, errors.New("plugin: reply needs an id")
		}
		id, err := rpc.EncodeID(req.ID)
		if err != nil {
			return nil, err
		}
		return rpc.NewReply(id, req.Result)
	}

	params := req.Params
	if params == nil {
		params = []any{}
	}
	if req.ID == nil {
		return rpc.NewRequest(p.ids.Next(), req.Method, params), nil
	}
	id, err := rpc.EncodeID(req.ID)
	if err != nil {
		return nil, err
	}
	return &rpc.Message{JSONRPC: rpc.Version, ID: id, Method: req.Method, Params: params}, nil
}

// Write sends raw bytes to the process's stdin. It does nothing when no
// process is running.
func (p *Plugin) Write(payload []byte) error {
	proc := p.current()
	if proc == nil {
		return nil
	}
	return proc.Write(payload)
}

// Execute runs the plugin binary once with args, emitting each output line
// as a log event, and returns the collected lines.
func (p *Plugin) Execute(ctx context.Context, args []string) ([]string, error) {
	bin, err := p.GetLocalBinary(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	p.logger.Info("executing command", "plugin", p.Name(), "args", args)
	return process.Run(ctx, bin.BinaryPath, args, process.RunOptions{
		Env:    p.desc.Env,
		OnLine: func(line string) { p.events.Emit(events.Log, line) },
	})
}
