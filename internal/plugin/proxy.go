package plugin

import (
	"context"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/release"
	"github.com/MIRChain/mir-control-center/internal/rpc"
)

// Proxy is an observer's handle on a Plugin. It forwards commands and
// re-emits the plugin's events on a separate emitter. Every Proxy of the
// same Plugin shares that emitter and the single relay link feeding it.
type Proxy struct {
	plugin *Plugin
	events *events.Emitter
}

// NewProxy returns a facade for p. Constructing many proxies registers the
// relay only once.
func NewProxy(p *Plugin) *Proxy {
	p.proxyOnce.Do(func() {
		p.proxyEvents = events.NewEmitter()
	})
	p.events.Relay(p.proxyEvents)
	return &Proxy{plugin: p, events: p.proxyEvents}
}

// Events is the proxy-scope emitter. Observers subscribe here.
func (x *Proxy) Events() *events.Emitter { return x.events }

// Subscribe is shorthand for Events().Subscribe.
func (x *Proxy) Subscribe(h events.Handler, names ...events.Name) *events.Subscription {
	return x.events.Subscribe(h, names...)
}

func (x *Proxy) Name() string                 { return x.plugin.Name() }
func (x *Proxy) Type() string                 { return x.plugin.Type() }
func (x *Proxy) API() map[string]any          { return x.plugin.API() }
func (x *Proxy) Order() int                   { return x.plugin.Order() }
func (x *Proxy) DisplayName() string          { return x.plugin.DisplayName() }
func (x *Proxy) State() process.State         { return x.plugin.State() }
func (x *Proxy) Settings() []Setting          { return x.plugin.Settings() }
func (x *Proxy) Config() map[string]string    { return x.plugin.DefaultConfig() }
func (x *Proxy) Source() string               { return x.plugin.Source() }
func (x *Proxy) Metadata() map[string]any     { return x.plugin.Metadata() }
func (x *Proxy) CacheDir() string             { return x.plugin.CacheDir() }
func (x *Proxy) About() *About                { return x.plugin.About() }
func (x *Proxy) Dependencies() *Dependencies  { return x.plugin.Dependencies() }
func (x *Proxy) IsRunning() bool              { return x.plugin.IsRunning() }
func (x *Proxy) IPCPath() string              { return x.plugin.IPCPath() }
func (x *Proxy) Stats() process.Stats         { return x.plugin.Stats() }
func (x *Proxy) Logs() []string               { return x.plugin.Logs() }
func (x *Proxy) Errors() []events.ErrorRecord { return x.plugin.Errors() }
func (x *Proxy) DismissError(key string)      { x.plugin.DismissError(key) }

func (x *Proxy) GetReleases(ctx context.Context) ([]release.Release, error) {
	return x.plugin.GetReleases(ctx)
}

func (x *Proxy) GetCachedReleases(ctx context.Context) ([]release.Release, error) {
	return x.plugin.GetCachedReleases(ctx)
}

func (x *Proxy) GetLatestCached(ctx context.Context) (*release.Release, error) {
	return x.plugin.GetLatestCached(ctx)
}

func (x *Proxy) GetLatestRemote(ctx context.Context) (*release.Release, error) {
	return x.plugin.GetLatestRemote(ctx)
}

func (x *Proxy) GetSelectedRelease(ctx context.Context) (*release.Release, error) {
	return x.plugin.GetSelectedRelease(ctx)
}

func (x *Proxy) SetSelectedRelease(ctx context.Context, rel release.Release) error {
	return x.plugin.SetSelectedRelease(ctx, rel)
}

func (x *Proxy) Download(ctx context.Context, rel release.Release, onProgress, onExtractionProgress func(release.Progress)) (*release.Release, error) {
	if onProgress == nil {
		onProgress = func(release.Progress) {}
	}
	return x.plugin.Download(ctx, rel, onProgress, onExtractionProgress)
}

func (x *Proxy) GetLocalBinary(ctx context.Context, rel *release.Release) (*LocalBinary, error) {
	return x.plugin.GetLocalBinary(ctx, rel)
}

func (x *Proxy) RequestStart(ctx context.Context, app string, flags []string, rel *release.Release) error {
	return x.plugin.RequestStart(ctx, app, flags, rel)
}

func (x *Proxy) Start(ctx context.Context, flags []string, rel *release.Release) error {
	return x.plugin.Start(ctx, flags, rel)
}

func (x *Proxy) Stop(ctx context.Context) error {
	x.plugin.logger.Info("plugin stop requested", "plugin", x.Name())
	return x.plugin.Stop(ctx)
}

func (x *Proxy) RPC(ctx context.Context, method string, params any) rpc.Result {
	return x.plugin.RPC(ctx, method, params)
}

func (x *Proxy) Send(ctx context.Context, req Request) rpc.Result {
	return x.plugin.Send(ctx, req)
}

func (x *Proxy) Write(payload []byte) error {
	return x.plugin.Write(payload)
}

func (x *Proxy) Execute(ctx context.Context, args []string) ([]string, error) {
	return x.plugin.Execute(ctx, args)
}

func (x *Proxy) CheckForUpdates(ctx context.Context) (*release.UpdateInfo, error) {
	return x.plugin.CheckForUpdates(ctx)
}

// Info is a JSON-friendly snapshot of a plugin.
type Info struct {
	Name         string               `json:"name"`
	DisplayName  string               `json:"displayName"`
	Type         string               `json:"type,omitempty"`
	Order        int                  `json:"order"`
	State        process.State        `json:"state"`
	IsRunning    bool                 `json:"isRunning"`
	IPCPath      string               `json:"ipcPath,omitempty"`
	CacheDir     string               `json:"cacheDir"`
	Settings     []Setting            `json:"settings,omitempty"`
	Config       map[string]string    `json:"config,omitempty"`
	About        *About               `json:"about,omitempty"`
	Dependencies *Dependencies        `json:"dependencies,omitempty"`
	Errors       []events.ErrorRecord `json:"errors"`
}

// Info returns a snapshot for APIs.
func (x *Proxy) Info() Info {
	return Info{
		Name:         x.Name(),
		DisplayName:  x.DisplayName(),
		Type:         x.Type(),
		Order:        x.Order(),
		State:        x.State(),
		IsRunning:    x.IsRunning(),
		IPCPath:      x.IPCPath(),
		CacheDir:     x.CacheDir(),
		Settings:     x.Settings(),
		Config:       x.Config(),
		About:        x.About(),
		Dependencies: x.Dependencies(),
		Errors:       x.Errors(),
	}
}
