package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/process"
	"github.com/MIRChain/mir-control-center/internal/release"
)

// Descriptor is the static configuration of one node client. It is usually
// loaded from a YAML file; the function-valued fields can only be set from
// Go code.
type Descriptor struct {
	Name        string `yaml:"name" json:"name"`
	Repository  string `yaml:"repository" json:"repository"`
	Type        string `yaml:"type" json:"type,omitempty"`
	Order       int    `yaml:"order" json:"order"`
	DisplayName string `yaml:"display_name" json:"displayName,omitempty"`

	// Filter selects release assets by name; Prefix additionally requires a
	// file-name prefix. Both accept {os} and {arch} tokens.
	Filter release.Filter `yaml:"filter" json:"filter,omitempty"`
	Prefix string         `yaml:"prefix" json:"prefix,omitempty"`

	// BinaryName picks the executable inside a package by path suffix.
	// Without it the first entry (or the .exe on Windows) is used.
	BinaryName string `yaml:"binary_name" json:"binaryName,omitempty"`
	// Unpack extracts downloaded packages next to the archive.
	Unpack bool `yaml:"unpack" json:"unpack,omitempty"`
	// Env is appended to the inherited environment of every spawned
	// process (KEY=value).
	Env []string `yaml:"env" json:"env,omitempty"`

	Settings     []Setting      `yaml:"settings" json:"settings,omitempty"`
	Config       ConfigDefault  `yaml:"config" json:"config,omitempty"`
	About        *About         `yaml:"about" json:"about,omitempty"`
	Dependencies *Dependencies  `yaml:"dependencies" json:"dependencies,omitempty"`
	API          map[string]any `yaml:"api" json:"api,omitempty"`
	BeforeStart  BeforeStart    `yaml:"before_start" json:"beforeStart,omitempty"`

	// IPCResolver names a registered resolver, see RegisterIPCResolver.
	IPCResolver string `yaml:"ipc_resolver" json:"ipcResolver,omitempty"`
	// DataRules turn matching output lines into events.
	DataRules []DataRule `yaml:"data_rules" json:"dataRules,omitempty"`
	// InputPrompts answer interactive prompts on stdin.
	InputPrompts []InputPrompt `yaml:"input_prompts" json:"inputPrompts,omitempty"`

	ResolveIPC       process.IPCResolver             `yaml:"-" json:"-"`
	HandleData       process.DataHandler             `yaml:"-" json:"-"`
	OnInputRequested process.InputHandler            `yaml:"-" json:"-"`
	BeforeStop       func(ctx context.Context) error `yaml:"-" json:"-"`
}

// ConfigDefault holds default setting values keyed by setting id.
type ConfigDefault struct {
	Default map[string]string `yaml:"default" json:"default,omitempty"`
}

// About describes the client for UIs.
type About struct {
	Description string `yaml:"description" json:"description,omitempty"`
	Apps        []Link `yaml:"apps" json:"apps,omitempty"`
	Links       []Link `yaml:"links" json:"links,omitempty"`
	Docs        []Link `yaml:"docs" json:"docs,omitempty"`
}

// Link is a named URL.
type Link struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Dependencies lists what the client needs besides its own package.
type Dependencies struct {
	// Runtime, when non-empty, means the client runs inside another
	// executable (a VM or interpreter). The first resolved flag is then the
	// runtime's path and the rest are its arguments.
	Runtime []RuntimeDependency `yaml:"runtime" json:"runtime,omitempty"`
}

// RuntimeDependency names a required runtime.
type RuntimeDependency struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version,omitempty"`
}

// BeforeStart lists one-shot commands run against the plugin binary before
// every start, for example "init genesis.json".
type BeforeStart struct {
	Execute []string `yaml:"execute" json:"execute,omitempty"`
}

// DataRule emits Event with the line as payload when the line contains
// Contains. For pluginError events Key becomes the record key.
type DataRule struct {
	Contains string      `yaml:"contains" json:"contains"`
	Event    events.Name `yaml:"event" json:"event"`
	Key      string      `yaml:"key" json:"key,omitempty"`
}

// InputPrompt writes the value of environment variable Env to stdin when a
// line contains Contains.
type InputPrompt struct {
	Contains string `yaml:"contains" json:"contains"`
	Env      string `yaml:"env" json:"env"`
}

// Validate checks required fields.
func (d *Descriptor) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Repository) == "" {
		missing = append(missing, "repository")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields %s", ErrConfig, strings.Join(missing, ", "))
	}
	if d.IPCResolver != "" {
		if _, ok := lookupIPCResolver(d.IPCResolver); !ok {
			return fmt.Errorf("%w: %s: unknown ipc_resolver %q", ErrConfig, d.Name, d.IPCResolver)
		}
	}
	for _, r := range d.DataRules {
		if r.Contains == "" || !r.Event.Valid() {
			return fmt.Errorf("%w: %s: data rule needs contains and a known event", ErrConfig, d.Name)
		}
	}
	return nil
}

// HasRuntime reports whether the client runs atop a secondary runtime.
func (d *Descriptor) HasRuntime() bool {
	return d.Dependencies != nil && len(d.Dependencies.Runtime) > 0
}

// releaseFilter folds Prefix into the asset filter.
func (d *Descriptor) releaseFilter() release.Filter {
	f := d.Filter
	if d.Prefix != "" {
		f.Prefix = d.Prefix
	}
	return f
}

// ipcResolver returns the Go resolver if set, else the named one.
func (d *Descriptor) ipcResolver() process.IPCResolver {
	if d.ResolveIPC != nil {
		return d.ResolveIPC
	}
	if r, ok := lookupIPCResolver(d.IPCResolver); ok {
		return r
	}
	return nil
}

func (d *Descriptor) dataHandler() process.DataHandler {
	if d.HandleData != nil {
		return d.HandleData
	}
	if len(d.DataRules) == 0 {
		return nil
	}
	rules := d.DataRules
	return func(line string, emit func(events.Name, any)) {
		for _, r := range rules {
			if !strings.Contains(line, r.Contains) {
				continue
			}
			if r.Event == events.PluginError {
				key := r.Key
				if key == "" {
					key = r.Contains
				}
				emit(r.Event, events.ErrorRecord{Key: key, Message: line})
				continue
			}
			emit(r.Event, line)
		}
	}
}

func (d *Descriptor) inputHandler() process.InputHandler {
	if d.OnInputRequested != nil {
		return d.OnInputRequested
	}
	if len(d.InputPrompts) == 0 {
		return nil
	}
	prompts := d.InputPrompts
	return func(line string) (string, bool) {
		for _, p := range prompts {
			if strings.Contains(line, p.Contains) {
				if v, ok := os.LookupEnv(p.Env); ok {
					return v, true
				}
			}
		}
		return "", false
	}
}

// ParseDescriptor decodes and validates a YAML descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parsing descriptor: %v", ErrConfig, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDescriptors reads every *.yaml and *.yml file in dir, sorted by
// Order then Name. A missing directory yields no descriptors.
func LoadDescriptors(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading descriptor directory: %w", err)
	}

	var out []*Descriptor
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // Operator-controlled descriptor directory
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		d, err := ParseDescriptor(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, d)
	}
	sortDescriptors(out)
	return out, nil
}

func sortDescriptors(ds []*Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Order != ds[j].Order {
			return ds[i].Order < ds[j].Order
		}
		return ds[i].Name < ds[j].Name
	})
}
