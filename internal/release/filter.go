package release

import (
	"runtime"
	"strings"
)

// Filter selects release assets by file name.
type Filter struct {
	// Prefix, when set, must start the file name.
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`
	// Includes must all appear in the name.
	Includes []string `yaml:"includes" json:"includes,omitempty"`
	// Excludes must not appear in the name.
	Excludes []string `yaml:"excludes" json:"excludes,omitempty"`
}

// Match reports whether name passes the filter. Matching is case-insensitive
// and the tokens {os} and {arch} expand to the running platform.
func (f Filter) Match(name string) bool {
	lower := strings.ToLower(name)
	if f.Prefix != "" && !strings.HasPrefix(lower, strings.ToLower(expandPlatform(f.Prefix))) {
		return false
	}
	for _, inc := range f.Includes {
		if !strings.Contains(lower, strings.ToLower(expandPlatform(inc))) {
			return false
		}
	}
	for _, exc := range f.Excludes {
		if strings.Contains(lower, strings.ToLower(expandPlatform(exc))) {
			return false
		}
	}
	return true
}

// expandPlatform substitutes {os} and {arch} using the names release
// assets usually carry.
func expandPlatform(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return strings.NewReplacer(
		"{os}", runtime.GOOS,
		"{arch}", runtime.GOARCH,
	).Replace(s)
}
