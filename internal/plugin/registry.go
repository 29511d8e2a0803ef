package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds every plugin known to the control center.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	opts    Options
}

// NewRegistry creates an empty registry. opts is the template for every
// plugin it creates; Updater is ignored so each plugin gets its own.
func NewRegistry(opts Options) *Registry {
	opts.Updater = nil
	return &Registry{plugins: make(map[string]*Plugin), opts: opts}
}

// Register builds a plugin from desc.
func (r *Registry) Register(desc Descriptor) (*Proxy, error) {
	return r.RegisterWith(desc, r.opts)
}

// RegisterWith builds a plugin with explicit options.
func (r *Registry) RegisterWith(desc Descriptor, opts Options) (*Proxy, error) {
	p, err := New(desc, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[desc.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, desc.Name)
	}
	r.plugins[desc.Name] = p
	return NewProxy(p), nil
}

// LoadDir registers every descriptor found in dir.
func (r *Registry) LoadDir(dir string) (int, error) {
	descs, err := LoadDescriptors(dir)
	if err != nil {
		return 0, err
	}
	for _, d := range descs {
		opts := r.opts
		if opts.Source == "" {
			opts.Source = dir
		}
		if _, err := r.RegisterWith(*d, opts); err != nil {
			return 0, err
		}
	}
	return len(descs), nil
}

// Get returns a proxy for name.
func (r *Registry) Get(name string) (*Proxy, error) {
	r.mu.RLock()
	p, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return NewProxy(p), nil
}

// List returns proxies sorted by Order then Name.
func (r *Registry) List() []*Proxy {
	r.mu.RLock()
	ps := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		ps = append(ps, p)
	}
	r.mu.RUnlock()

	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Order() != ps[j].Order() {
			return ps[i].Order() < ps[j].Order()
		}
		return ps[i].Name() < ps[j].Name()
	})
	out := make([]*Proxy, len(ps))
	for i, p := range ps {
		out[i] = NewProxy(p)
	}
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// StopAll stops every running plugin and joins the errors.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, x := range r.List() {
		if !x.IsRunning() {
			continue
		}
		if err := x.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
