package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/MIRChain/mir-control-center/internal/release"
)

// binaryMode gives the owner execute permission. It only applies when the
// file is created; an existing file keeps its mode.
const binaryMode = 0o754

// LocalBinary is a runnable executable and the package it came from.
// PackagePath is empty for releases that are raw binaries.
type LocalBinary struct {
	BinaryPath  string `json:"binaryPath"`
	PackagePath string `json:"packagePath,omitempty"`
}

// GetLocalBinary returns the executable for rel, or for the newest cached
// release when rel is nil. Packaged releases have their binary written to
// the cache root under the entry's base name, replacing any earlier copy.
func (p *Plugin) GetLocalBinary(ctx context.Context, rel *release.Release) (*LocalBinary, error) {
	if rel == nil {
		latest, err := p.updater.GetLatestCached(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
		}
		if latest == nil {
			return nil, fmt.Errorf("%w: no cached release of %s", ErrBinaryNotFound, p.Name())
		}
		rel = latest
	}

	if rel.IsBinary {
		return &LocalBinary{BinaryPath: rel.Location}, nil
	}

	entries, err := p.updater.GetEntries(ctx, *rel)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrBinaryNotFound, rel.Location, err)
	}
	entry, ok := selectBinaryEntry(entries, p.desc.BinaryName, runtime.GOOS)
	if !ok {
		return nil, fmt.Errorf("%w: in %s; set binary_name", ErrBinaryNotFound, rel.Location)
	}

	dest, err := materialize(p.updater.CacheDir(), entry)
	if err != nil {
		return nil, err
	}
	p.logger.Info("binary located", "plugin", p.Name(), "entry", entry.RelativePath, "path", dest)
	return &LocalBinary{BinaryPath: dest, PackagePath: rel.Location}, nil
}

// selectBinaryEntry picks the executable: by configured name when there is
// one, else by detectBinaryEntry.
func selectBinaryEntry(entries []release.Entry, binaryName, goos string) (release.Entry, bool) {
	if binaryName != "" {
		return matchBinaryEntry(entries, binaryName, goos)
	}
	return detectBinaryEntry(entries, goos)
}

// matchBinaryEntry returns the first entry whose path ends with name. On
// Windows name.exe is accepted too.
func matchBinaryEntry(entries []release.Entry, name, goos string) (release.Entry, bool) {
	candidates := []string{name}
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		candidates = append(candidates, name+".exe")
	}
	for _, c := range candidates {
		for _, e := range entries {
			if strings.HasSuffix(e.RelativePath, c) {
				return e, true
			}
		}
	}
	return release.Entry{}, false
}

// detectBinaryEntry is a best-effort guess: the first .exe on Windows,
// otherwise simply the first entry. It is not guaranteed to be right.
func detectBinaryEntry(entries []release.Entry, goos string) (release.Entry, bool) {
	if goos == "windows" {
		for _, e := range entries {
			if strings.HasSuffix(strings.ToLower(e.RelativePath), ".exe") {
				return e, true
			}
		}
		return release.Entry{}, false
	}
	if len(entries) == 0 {
		return release.Entry{}, false
	}
	return entries[0], true
}

// materialize writes entry to dir/<base name>. An existing file is removed
// first; failure to remove it is ErrBinaryInUse.
func materialize(dir string, entry release.Entry) (string, error) {
	dest := filepath.Join(dir, entry.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBinaryInUse, dest, err)
		}
	}

	content, err := entry.ReadContent()
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrBinaryNotFound, entry.RelativePath, err)
	}
	if err := os.WriteFile(dest, content, binaryMode); err != nil {
		return "", fmt.Errorf("writing binary %s: %w", dest, err)
	}
	return dest, nil
}
