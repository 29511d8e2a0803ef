package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub serves a releases listing and the asset bodies.
type fakeGitHub struct {
	server    *httptest.Server
	assets    map[string][]byte
	downloads atomic.Int32
	token     atomic.Value
}

func newFakeGitHub(t *testing.T, assets map[string][]byte, tags map[string]string) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{assets: assets}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/MIRChain/mir/releases", func(w http.ResponseWriter, r *http.Request) {
		f.token.Store(r.Header.Get("Authorization"))
		var out []githubRelease
		for name, tag := range tags {
			out = append(out, githubRelease{
				TagName: tag,
				Assets: []githubAsset{{
					Name:               name,
					Size:               int64(len(assets[name])),
					BrowserDownloadURL: f.server.URL + "/download/" + name,
				}},
			})
		}
		out = append(out, githubRelease{TagName: "v9.9.9", Draft: true, Assets: []githubAsset{{Name: "draft-9.9.9.zip"}}})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		body, ok := f.assets[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.downloads.Add(1)
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write(body)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestUpdater(t *testing.T, gh *fakeGitHub, extract bool) *BinaryUpdater {
	t.Helper()
	opts := Options{
		Name:           "mir",
		CacheDir:       t.TempDir(),
		Filter:         Filter{Excludes: []string{".asc"}},
		ExtractPackage: extract,
	}
	if gh != nil {
		src, err := NewGitHubSource("https://github.com/MIRChain/mir", WithAPIURL(gh.server.URL), WithToken("secret"))
		require.NoError(t, err)
		opts.Source = src
	}
	return NewBinaryUpdater(opts)
}

func TestParseGitHubRepository(t *testing.T) {
	tests := []struct {
		in        string
		owner     string
		repo      string
		expectErr bool
	}{
		{in: "https://github.com/ethereum/go-ethereum", owner: "ethereum", repo: "go-ethereum"},
		{in: "https://github.com/MIRChain/mir.git", owner: "MIRChain", repo: "mir"},
		{in: "MIRChain/mir", owner: "MIRChain", repo: "mir"},
		{in: "https://gitlab.com/a/b", expectErr: true},
		{in: "https://github.com/only-owner", expectErr: true},
	}
	for _, tt := range tests {
		owner, repo, err := ParseGitHubRepository(tt.in)
		if tt.expectErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.owner, owner)
		assert.Equal(t, tt.repo, repo)
	}
}

func TestBinaryUpdater_CachedReleases(t *testing.T) {
	u := newTestUpdater(t, nil, false)
	dir := filepath.Join(u.CacheDir(), releasesSubdir)
	writeFile(t, filepath.Join(dir, "mir-1.0.0.tar.gz"), tarGz(t, []testFile{{name: "mir", content: "a"}}))
	writeFile(t, filepath.Join(dir, "mir-1.2.0.tar.gz"), tarGz(t, []testFile{{name: "mir", content: "b"}}))
	writeFile(t, filepath.Join(dir, "mir-1.3.0.tar.gz.download"), []byte("partial"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("no version"))
	writeFile(t, filepath.Join(dir, "mir-1.2.0.tar.gz.asc"), []byte("sig"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mir-1.2.0"), 0o755))

	rels, err := u.GetCachedReleases(context.Background())
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "1.2.0", rels[0].Version)
	assert.Equal(t, filepath.Join(dir, "mir-1.2.0"), rels[0].ExtractedPackagePath)
	assert.Equal(t, "1.0.0", rels[1].Version)
	assert.Empty(t, rels[1].ExtractedPackagePath)

	latest, err := u.GetLatestCached(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", latest.Version)
}

func TestBinaryUpdater_EmptyCache(t *testing.T) {
	u := newTestUpdater(t, nil, false)

	latest, err := u.GetLatestCached(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)

	latest, err = u.GetLatest(context.Background(), LatestOptions{Download: true})
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = u.GetLatestRemote(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestBinaryUpdater_DownloadAndExtract(t *testing.T) {
	pkg := tarGz(t, []testFile{{name: "mir-1.4.0/mir", content: "binary", mode: 0o755}})
	gh := newFakeGitHub(t,
		map[string][]byte{"mir-linux-1.4.0.tar.gz": pkg, "mir-linux-1.3.0.tar.gz": pkg},
		map[string]string{"mir-linux-1.4.0.tar.gz": "v1.4.0", "mir-linux-1.3.0.tar.gz": "v1.3.0"},
	)
	u := newTestUpdater(t, gh, true)

	var progress []Progress
	var extraction []Progress
	rel, err := u.GetLatest(context.Background(), LatestOptions{
		Download: true,
		DownloadOptions: DownloadOptions{
			OnProgress:           func(p Progress) { progress = append(progress, p) },
			OnExtractionProgress: func(p Progress) { extraction = append(extraction, p) },
		},
	})
	require.NoError(t, err)
	require.NotNil(t, rel)

	assert.Equal(t, "Bearer secret", gh.token.Load())
	assert.Equal(t, "1.4.0", rel.Version)
	assert.False(t, rel.Remote)
	assert.FileExists(t, rel.Location)
	assert.NoFileExists(t, rel.Location+partialSuffix)
	assert.Equal(t, archiveBase(rel.Location), rel.ExtractedPackagePath)
	assert.FileExists(t, filepath.Join(rel.ExtractedPackagePath, "mir-1.4.0", "mir"))

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, int64(len(pkg)), last.Done)
	assert.Equal(t, int64(len(pkg)), last.Total)
	assert.Equal(t, []Progress{{Done: 1, Total: 1}}, extraction)

	entries, err := u.GetEntries(context.Background(), *rel)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mir-1.4.0/mir", entries[0].RelativePath)

	all, err := u.GetReleases(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Remote, "cached copy replaces remote 1.4.0")
	assert.True(t, all[1].Remote)
}

func TestBinaryUpdater_DownloadCachedIsNoop(t *testing.T) {
	u := newTestUpdater(t, nil, false)
	rel := Release{Name: "mir-1.0.0", Version: "1.0.0", Location: "/somewhere/mir-1.0.0"}

	got, err := u.Download(context.Background(), rel, DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, rel, *got)
}

func TestBinaryUpdater_DownloadWithoutExtraction(t *testing.T) {
	pkg := zipBytes(t, []testFile{{name: "mir.exe", content: "MZ"}})
	gh := newFakeGitHub(t,
		map[string][]byte{"mir-windows-2.0.0.zip": pkg},
		map[string]string{"mir-windows-2.0.0.zip": "v2.0.0"},
	)
	u := newTestUpdater(t, gh, true)
	remote, err := u.GetLatestRemote(context.Background())
	require.NoError(t, err)

	no := false
	rel, err := u.Download(context.Background(), *remote, DownloadOptions{ExtractPackage: &no})
	require.NoError(t, err)
	assert.Empty(t, rel.ExtractedPackagePath)

	entries, err := u.GetEntries(context.Background(), *rel)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := entries[0].ReadContent()
	require.NoError(t, err)
	assert.Equal(t, "MZ", string(content))
}

func TestBinaryUpdater_RawBinaryEntries(t *testing.T) {
	gh := newFakeGitHub(t,
		map[string][]byte{"mir-linux-amd64-1.0.0": []byte("ELF")},
		map[string]string{"mir-linux-amd64-1.0.0": "v1.0.0"},
	)
	u := newTestUpdater(t, gh, false)

	rel, err := u.GetLatest(context.Background(), LatestOptions{Download: true})
	require.NoError(t, err)
	assert.True(t, rel.IsBinary)

	entries, err := u.GetEntries(context.Background(), *rel)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mir-linux-amd64-1.0.0", entries[0].RelativePath)
}

func TestBinaryUpdater_CheckForUpdates(t *testing.T) {
	pkg := tarGz(t, []testFile{{name: "mir", content: "x"}})
	gh := newFakeGitHub(t,
		map[string][]byte{"mir-1.1.0.tar.gz": pkg},
		map[string]string{"mir-1.1.0.tar.gz": "v1.1.0"},
	)
	u := newTestUpdater(t, gh, false)
	writeFile(t, filepath.Join(u.CacheDir(), releasesSubdir, "mir-1.0.0.tar.gz"), pkg)

	info, err := u.CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.True(t, info.UpdateAvailable)
	assert.Equal(t, "1.0.0", info.Current.Version)
	assert.Equal(t, "1.1.0", info.Latest.Version)

	_, err = u.Download(context.Background(), *info.Latest, DownloadOptions{})
	require.NoError(t, err)

	info, err = u.CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.False(t, info.UpdateAvailable)
}

func TestBinaryUpdater_RemoteErrorFallsBackToCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer server.Close()

	src, err := NewGitHubSource("MIRChain/mir", WithAPIURL(server.URL))
	require.NoError(t, err)
	u := NewBinaryUpdater(Options{Name: "mir", CacheDir: t.TempDir(), Source: src})
	writeFile(t, filepath.Join(u.CacheDir(), releasesSubdir, "mir-1.0.0.zip"), zipBytes(t, nil))

	rels, err := u.GetReleases(context.Background())
	require.NoError(t, err)
	require.Len(t, rels, 1)

	_, err = u.GetLatestRemote(context.Background())
	assert.ErrorContains(t, err, "status 403")
}
