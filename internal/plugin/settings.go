package plugin

import (
	"strings"
)

// Setting is one configurable launch option.
type Setting struct {
	ID      string `yaml:"id" json:"id"`
	Label   string `yaml:"label" json:"label,omitempty"`
	Default string `yaml:"default" json:"default,omitempty"`
	// Flag is a template; %s is replaced by the value.
	Flag string `yaml:"flag" json:"flag,omitempty"`
	// Type is a UI hint such as "directory".
	Type          string          `yaml:"type" json:"type,omitempty"`
	IgnoreIfEmpty bool            `yaml:"ignore_if_empty" json:"ignoreIfEmpty,omitempty"`
	Options       []SettingOption `yaml:"options" json:"options,omitempty"`
}

// SettingOption is one choice of a Setting. Its Flag, when set, is used
// verbatim instead of the setting's template.
type SettingOption struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label,omitempty"`
	Flag  string `yaml:"flag" json:"flag,omitempty"`
}

// BuildFlags turns settings into argv. values overrides each setting's
// default by id. Flag strings are split on whitespace.
func BuildFlags(settings []Setting, values map[string]string) []string {
	var flags []string
	for _, s := range settings {
		value, ok := values[s.ID]
		if !ok {
			value = s.Default
		}
		flags = append(flags, strings.Fields(settingFlag(s, value))...)
	}
	return flags
}

func settingFlag(s Setting, value string) string {
	if len(s.Options) > 0 {
		for _, opt := range s.Options {
			if opt.Value != value {
				continue
			}
			if opt.Flag != "" {
				return opt.Flag
			}
			break
		}
	}
	if s.Flag == "" {
		return ""
	}
	if value == "" && s.IgnoreIfEmpty {
		return ""
	}
	if value == "" && strings.Contains(s.Flag, "%s") {
		return ""
	}
	return strings.ReplaceAll(s.Flag, "%s", value)
}
