package plugin

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"sync"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/release"
)

// fakeUpdater is an in-memory release.Updater.
type fakeUpdater struct {
	cacheDir string
	cached   []release.Release
	entries  map[string][]release.Entry
	// latest is what GetLatest returns after replaying the progress ticks.
	latest     *release.Release
	latestErr  error
	progress   []release.Progress
	extraction []release.Progress

	mu           sync.Mutex
	latestCalls  int
	latestOpts   release.LatestOptions
	entriesCalls int
	downloadOpts []release.DownloadOptions
}

var _ release.Updater = (*fakeUpdater)(nil)

func (f *fakeUpdater) CacheDir() string { return f.cacheDir }

func (f *fakeUpdater) GetReleases(ctx context.Context) ([]release.Release, error) {
	return f.GetCachedReleases(ctx)
}

func (f *fakeUpdater) GetCachedReleases(context.Context) ([]release.Release, error) {
	return append([]release.Release(nil), f.cached...), nil
}

func (f *fakeUpdater) GetLatest(_ context.Context, opts release.LatestOptions) (*release.Release, error) {
	f.mu.Lock()
	f.latestCalls++
	f.latestOpts = opts
	f.mu.Unlock()

	if f.latestErr != nil {
		return nil, f.latestErr
	}
	for _, p := range f.progress {
		if opts.DownloadOptions.OnProgress != nil {
			opts.DownloadOptions.OnProgress(p)
		}
	}
	for _, p := range f.extraction {
		if opts.DownloadOptions.OnExtractionProgress != nil {
			opts.DownloadOptions.OnExtractionProgress(p)
		}
	}
	return f.latest, nil
}

func (f *fakeUpdater) GetLatestCached(context.Context) (*release.Release, error) {
	if len(f.cached) == 0 {
		return nil, nil
	}
	rel := f.cached[0]
	return &rel, nil
}

func (f *fakeUpdater) GetLatestRemote(context.Context) (*release.Release, error) {
	return f.latest, nil
}

func (f *fakeUpdater) GetEntries(_ context.Context, rel release.Release) ([]release.Entry, error) {
	f.mu.Lock()
	f.entriesCalls++
	f.mu.Unlock()
	return f.entries[rel.Location], nil
}

func (f *fakeUpdater) Download(_ context.Context, rel release.Release, opts release.DownloadOptions) (*release.Release, error) {
	f.mu.Lock()
	f.downloadOpts = append(f.downloadOpts, opts)
	f.mu.Unlock()
	return &rel, nil
}

func (f *fakeUpdater) CheckForUpdates(context.Context) (*release.UpdateInfo, error) {
	return &release.UpdateInfo{Latest: f.latest}, nil
}

func memEntry(path, content string) release.Entry {
	return release.NewEntry(path, fs.FileMode(0o644), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(content))), nil
	})
}

// recorder collects events in order.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) named(name events.Name) []any {
	var out []any
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev.Payload)
		}
	}
	return out
}

func (r *recorder) count(name events.Name) int {
	return len(r.named(name))
}
