package release

import (
	"context"
	"path/filepath"
	"time"
)

// Release is one version of a node client, either cached on disk or
// available remotely.
type Release struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Location is a local file path for cached releases and a download
	// URL for remote ones.
	Location string `json:"location"`
	Remote   bool   `json:"remote,omitempty"`
	// IsBinary marks a release that is the executable itself rather than
	// an archive containing it.
	IsBinary    bool      `json:"isBinary,omitempty"`
	Size        int64     `json:"size,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	// ExtractedPackagePath is the directory the package was unpacked into.
	ExtractedPackagePath string `json:"extractedPackagePath,omitempty"`
}

// PackagePath returns the directory that holds the release's unpacked
// contents. For an archive that has not been recorded as extracted this is
// the archive path without its extension.
func (r Release) PackagePath() string {
	if r.ExtractedPackagePath != "" {
		return r.ExtractedPackagePath
	}
	if r.IsBinary {
		return filepath.Dir(r.Location)
	}
	return archiveBase(r.Location)
}

// Progress reports bytes (or entries) processed out of a total. Total is 0
// when unknown.
type Progress struct {
	Done  int64 `json:"done"`
	Total int64 `json:"total"`
}

// Percent returns progress in [0, 100], or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	pct := float64(p.Done) / float64(p.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// DownloadOptions controls Download.
type DownloadOptions struct {
	OnProgress           func(Progress)
	OnExtractionProgress func(Progress)
	// ExtractPackage overrides the updater's default for this call.
	ExtractPackage *bool
}

// LatestOptions controls GetLatest.
type LatestOptions struct {
	Download        bool
	DownloadOptions DownloadOptions
}

// UpdateInfo compares the newest cached release with the newest remote one.
type UpdateInfo struct {
	Current         *Release `json:"current,omitempty"`
	Latest          *Release `json:"latest,omitempty"`
	UpdateAvailable bool     `json:"updateAvailable"`
}

// Updater is the release-acquisition contract plugins depend on.
type Updater interface {
	CacheDir() string
	GetReleases(ctx context.Context) ([]Release, error)
	GetCachedReleases(ctx context.Context) ([]Release, error)
	GetLatest(ctx context.Context, opts LatestOptions) (*Release, error)
	GetLatestCached(ctx context.Context) (*Release, error)
	GetLatestRemote(ctx context.Context) (*Release, error)
	GetEntries(ctx context.Context, rel Release) ([]Entry, error)
	Download(ctx context.Context, rel Release, opts DownloadOptions) (*Release, error)
	CheckForUpdates(ctx context.Context) (*UpdateInfo, error)
}
