package preferences

import (
	"context"

	"github.com/MIRChain/mir-control-center/internal/release"
)

// SelectedReleaseKey holds the map of plugin name to chosen release.
const SelectedReleaseKey = "selectedRelease"

// SelectedReleases reads and writes the per-plugin release choice.
// Writes are read-modify-write without locking; the last writer wins.
type SelectedReleases struct {
	store Store
}

// NewSelectedReleases wraps a Store.
func NewSelectedReleases(store Store) *SelectedReleases {
	return &SelectedReleases{store: store}
}

// All returns the full selection map. It is never nil.
func (s *SelectedReleases) All(ctx context.Context) (map[string]release.Release, error) {
	m := make(map[string]release.Release)
	if _, err := s.store.GetItem(ctx, SelectedReleaseKey, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]release.Release)
	}
	return m, nil
}

// Get returns the selected release for plugin, or nil.
func (s *SelectedReleases) Get(ctx context.Context, plugin string) (*release.Release, error) {
	m, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	rel, ok := m[plugin]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

// Set records rel as the selection for plugin.
func (s *SelectedReleases) Set(ctx context.Context, plugin string, rel release.Release) error {
	m, err := s.All(ctx)
	if err != nil {
		return err
	}
	m[plugin] = rel
	return s.store.SetItem(ctx, SelectedReleaseKey, m)
}

// Clear removes the selection for plugin.
func (s *SelectedReleases) Clear(ctx context.Context, plugin string) error {
	m, err := s.All(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[plugin]; !ok {
		return nil
	}
	delete(m, plugin)
	return s.store.SetItem(ctx, SelectedReleaseKey, m)
}
