package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

const userAgent = "mircc-release-fetcher"

const (
	// listTimeout bounds a release listing request.
	listTimeout = time.Minute

	// downloadHeaderTimeout bounds the wait for an asset's response headers.
	// The body itself is bounded only by the caller's context.
	downloadHeaderTimeout = time.Minute
)

// GitHubSource lists release assets of a GitHub repository.
type GitHubSource struct {
	apiURL   string
	owner    string
	repo     string
	token    string
	client   *http.Client
	download *http.Client
}

// GitHubOption configures a GitHubSource.
type GitHubOption func(*GitHubSource)

// WithAPIURL overrides the API base URL (for GitHub Enterprise or tests).
func WithAPIURL(u string) GitHubOption {
	return func(s *GitHubSource) {
		if u != "" {
			s.apiURL = strings.TrimRight(u, "/")
		}
	}
}

// WithToken authenticates API calls, raising the rate limit.
func WithToken(token string) GitHubOption {
	return func(s *GitHubSource) { s.token = token }
}

// WithHTTPClient replaces the default clients for listing and downloads.
func WithHTTPClient(c *http.Client) GitHubOption {
	return func(s *GitHubSource) {
		s.client = c
		s.download = c
	}
}

// NewGitHubSource creates a source from a repository URL such as
// "https://github.com/ethereum/go-ethereum".
func NewGitHubSource(repository string, opts ...GitHubOption) (*GitHubSource, error) {
	owner, repo, err := ParseGitHubRepository(repository)
	if err != nil {
		return nil, err
	}
	s := &GitHubSource{
		apiURL:   DefaultGitHubAPI,
		owner:    owner,
		repo:     repo,
		client:   &http.Client{Timeout: listTimeout},
		download: &http.Client{
			Transport: downloadTransport(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func downloadTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	tr := base.Clone()
	tr.ResponseHeaderTimeout = downloadHeaderTimeout
	return tr
}

// ParseGitHubRepository extracts owner and repository name from a GitHub URL
// or an "owner/repo" shorthand.
func ParseGitHubRepository(repository string) (owner, repo string, err error) {
	path := repository
	if strings.Contains(repository, "://") {
		u, perr := url.Parse(repository)
		if perr != nil {
			return "", "", fmt.Errorf("parsing repository %q: %w", repository, perr)
		}
		if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
			return "", "", fmt.Errorf("repository %q is not hosted on github.com", repository)
		}
		path = u.Path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q: expected owner/name", repository)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Draft       bool          `json:"draft"`
	Prerelease  bool          `json:"prerelease"`
	PublishedAt time.Time     `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// List returns every asset of every published release.
func (s *GitHubSource) List(ctx context.Context) ([]Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=100", s.apiURL, s.owner, s.repo)
	resp, err := s.get(ctx, s.client, endpoint, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var releases []githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}

	var out []Release
	for _, gr := range releases {
		if gr.Draft {
			continue
		}
		tagVersion := ParseVersion(gr.TagName)
		if tagVersion == "" {
			tagVersion = ParseVersion(gr.Name)
		}
		for _, a := range gr.Assets {
			version := ParseVersion(a.Name)
			if version == "" {
				version = tagVersion
			}
			if version == "" {
				continue
			}
			out = append(out, Release{
				Name:        a.Name,
				Version:     version,
				Location:    a.BrowserDownloadURL,
				Remote:      true,
				IsBinary:    !isArchive(a.Name),
				Size:        a.Size,
				PublishedAt: gr.PublishedAt,
			})
		}
	}
	return out, nil
}

// Open starts downloading the asset at rel.Location. Reading the body has no
// time limit of its own; cancel ctx to abort it.
func (s *GitHubSource) Open(ctx context.Context, rel Release) (io.ReadCloser, int64, error) {
	resp, err := s.get(ctx, s.download, rel.Location, "application/octet-stream")
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

func (s *GitHubSource) get(ctx context.Context, client *http.Client, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		resp.Body.Close()
		return nil, fmt.Errorf("requesting %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
