package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

// releasesSubdir holds downloaded packages below the cache root. Located
// binaries are materialized in the cache root itself.
const releasesSubdir = "releases"

const partialSuffix = ".download"

// Source lists and opens remote releases.
type Source interface {
	// List returns every remote asset as a Release with Remote set and
	// Location holding its download URL.
	List(ctx context.Context) ([]Release, error)
	// Open streams the asset. size is -1 when unknown.
	Open(ctx context.Context, rel Release) (body io.ReadCloser, size int64, err error)
}

// Options configures a BinaryUpdater.
type Options struct {
	// Name identifies the plugin in logs.
	Name     string
	CacheDir string
	// Source is optional; without it only cached releases are available.
	Source Source
	Filter Filter
	// ExtractPackage unpacks downloaded archives next to the archive file.
	ExtractPackage bool
	Logger         Logger
}

// BinaryUpdater is the default Updater: a cache directory plus an optional
// remote Source.
type BinaryUpdater struct {
	name     string
	cacheDir string
	source   Source
	filter   Filter
	extract  bool
	logger   Logger

	downloads singleflight.Group
}

// NewBinaryUpdater creates an updater. The cache directory is created lazily
// on first download.
func NewBinaryUpdater(opts Options) *BinaryUpdater {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &BinaryUpdater{
		name:     opts.Name,
		cacheDir: opts.CacheDir,
		source:   opts.Source,
		filter:   opts.Filter,
		extract:  opts.ExtractPackage,
		logger:   logger,
	}
}

// CacheDir returns the cache root.
func (u *BinaryUpdater) CacheDir() string {
	return u.cacheDir
}

func (u *BinaryUpdater) releasesDir() string {
	return filepath.Join(u.cacheDir, releasesSubdir)
}

// GetCachedReleases scans the cache for packages whose names carry a version,
// newest first.
func (u *BinaryUpdater) GetCachedReleases(_ context.Context) ([]Release, error) {
	dir := u.releasesDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", dir, err)
	}

	var rels []Release
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, partialSuffix) || !u.filter.Match(name) {
			continue
		}
		version := ParseVersion(name)
		if version == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		loc := filepath.Join(dir, name)
		rel := Release{
			Name:        name,
			Version:     version,
			Location:    loc,
			IsBinary:    !isArchive(name),
			Size:        info.Size(),
			PublishedAt: info.ModTime(),
		}
		if !rel.IsBinary {
			if st, err := os.Stat(archiveBase(loc)); err == nil && st.IsDir() {
				rel.ExtractedPackagePath = archiveBase(loc)
			}
		}
		rels = append(rels, rel)
	}
	SortNewestFirst(rels)
	return rels, nil
}

// GetRemoteReleases lists remote assets that pass the filter, newest first.
func (u *BinaryUpdater) GetRemoteReleases(ctx context.Context) ([]Release, error) {
	if u.source == nil {
		return nil, ErrNoSource
	}
	all, err := u.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote releases: %w", err)
	}
	rels := make([]Release, 0, len(all))
	for _, r := range all {
		if !u.filter.Match(r.Name) {
			continue
		}
		if r.Version == "" {
			r.Version = ParseVersion(r.Name)
		}
		r.Remote = true
		rels = append(rels, r)
	}
	SortNewestFirst(rels)
	return rels, nil
}

// GetReleases merges cached and remote releases, newest first. A remote
// release whose file is already cached is represented by the cached copy.
// Remote listing failures are logged and the cached list is returned.
func (u *BinaryUpdater) GetReleases(ctx context.Context) ([]Release, error) {
	cached, err := u.GetCachedReleases(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := u.GetRemoteReleases(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSource) {
			u.logger.Warn("remote release listing failed", "plugin", u.name, "error", err)
		}
		return cached, nil
	}

	have := make(map[string]bool, len(cached))
	for _, r := range cached {
		have[r.Name] = true
	}
	all := append([]Release{}, cached...)
	for _, r := range remote {
		if !have[r.Name] {
			all = append(all, r)
		}
	}
	SortNewestFirst(all)
	return all, nil
}

// GetLatestCached returns the newest cached release, or nil if the cache is
// empty.
func (u *BinaryUpdater) GetLatestCached(ctx context.Context) (*Release, error) {
	rels, err := u.GetCachedReleases(ctx)
	if err != nil || len(rels) == 0 {
		return nil, err
	}
	return &rels[0], nil
}

// GetLatestRemote returns the newest remote release, or nil if there is none.
func (u *BinaryUpdater) GetLatestRemote(ctx context.Context) (*Release, error) {
	rels, err := u.GetRemoteReleases(ctx)
	if err != nil || len(rels) == 0 {
		return nil, err
	}
	return &rels[0], nil
}

// GetLatest returns the newest remote release, downloading it when
// opts.Download is set. Without a Source it falls back to the newest cached
// release.
func (u *BinaryUpdater) GetLatest(ctx context.Context, opts LatestOptions) (*Release, error) {
	latest, err := u.GetLatestRemote(ctx)
	if errors.Is(err, ErrNoSource) {
		return u.GetLatestCached(ctx)
	}
	if err != nil || latest == nil {
		return nil, err
	}
	if !opts.Download {
		return latest, nil
	}
	return u.Download(ctx, *latest, opts.DownloadOptions)
}

// Download fetches a remote release into the cache. Cached releases are
// returned unchanged. Concurrent downloads of the same asset share one
// transfer, and only the first caller's progress callbacks fire.
func (u *BinaryUpdater) Download(ctx context.Context, rel Release, opts DownloadOptions) (*Release, error) {
	if !rel.Remote {
		return &rel, nil
	}
	if u.source == nil {
		return nil, ErrNoSource
	}

	v, err, _ := u.downloads.Do(rel.Location, func() (any, error) {
		return u.download(ctx, rel, opts)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*Release)
	return &out, nil
}

func (u *BinaryUpdater) download(ctx context.Context, rel Release, opts DownloadOptions) (*Release, error) {
	dir := u.releasesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(rel.Name))
	partial := dest + partialSuffix

	body, size, err := u.source.Open(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", rel.Name, err)
	}
	defer body.Close()
	if size < 0 {
		size = rel.Size
	}

	u.logger.Info("downloading release", "plugin", u.name, "release", rel.Name, "version", rel.Version)

	f, err := os.Create(partial) //nolint:gosec // Path is inside the release cache
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", partial, err)
	}
	written, err := io.Copy(f, &progressReader{r: body, total: size, fn: opts.OnProgress})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(partial) //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("downloading %s: %w", rel.Name, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		_ = os.Remove(partial) //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("moving %s into cache: %w", rel.Name, err)
	}

	out := Release{
		Name:        rel.Name,
		Version:     rel.Version,
		Location:    dest,
		IsBinary:    !isArchive(rel.Name),
		Size:        written,
		PublishedAt: rel.PublishedAt,
	}

	extract := u.extract
	if opts.ExtractPackage != nil {
		extract = *opts.ExtractPackage
	}
	if extract && !out.IsBinary {
		target := archiveBase(dest)
		if err := extractArchive(dest, target, opts.OnExtractionProgress); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", rel.Name, err)
		}
		out.ExtractedPackagePath = target
	}

	u.logger.Info("release cached", "plugin", u.name, "path", dest, "bytes", written)
	return &out, nil
}

// GetEntries lists the files of a cached release. A raw binary yields a
// single entry; an extracted package is read from disk; otherwise the archive
// itself is listed.
func (u *BinaryUpdater) GetEntries(_ context.Context, rel Release) ([]Entry, error) {
	if rel.Remote {
		return nil, fmt.Errorf("%w: %s is not cached", ErrNotFound, rel.Name)
	}
	if rel.IsBinary {
		loc := rel.Location
		info, err := os.Stat(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return []Entry{{
			RelativePath: filepath.Base(loc),
			Size:         info.Size(),
			Mode:         info.Mode(),
			open: func() (io.ReadCloser, error) {
				return os.Open(loc) //nolint:gosec // Path is a cached release
			},
		}}, nil
	}

	if st, err := os.Stat(rel.PackagePath()); err == nil && st.IsDir() {
		return dirEntries(rel.PackagePath())
	}
	if _, err := os.Stat(rel.Location); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel.Location)
	}
	return listArchive(rel.Location)
}

// CheckForUpdates compares the newest cached release with the newest remote
// one.
func (u *BinaryUpdater) CheckForUpdates(ctx context.Context) (*UpdateInfo, error) {
	current, err := u.GetLatestCached(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := u.GetLatestRemote(ctx)
	if err != nil && !errors.Is(err, ErrNoSource) {
		return nil, err
	}
	info := &UpdateInfo{Current: current, Latest: latest}
	if latest != nil {
		info.UpdateAvailable = current == nil || CompareVersions(latest.Version, current.Version) > 0
	}
	return info, nil
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    func(Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.fn != nil {
			p.fn(Progress{Done: p.done, Total: p.total})
		}
	}
	return n, err
}
