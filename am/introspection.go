package am

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/pulsegraph/am.toml
	SourceUser        ConfigSource = "user"        // ~/.pulsegraph/am.toml
	SourceProject     ConfigSource = "project"     // nearest am.toml
	SourceEnvironment ConfigSource = "environment" // PULSEGRAPH_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo is one effective setting and its origin
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      any          `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// Introspect returns every effective setting with the source it came from,
// sorted by key. Used by `pulsegraph am show --sources`.
func Introspect() ([]SettingInfo, error) {
	if _, err := Load(); err != nil {
		return nil, err
	}

	loadMu.Lock()
	v := viperInstance
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, s := range ConfigSources {
		sources[k] = s
	}
	loadMu.Unlock()

	return settingsWithSources(v.AllSettings(), sources), nil
}

func settingsWithSources(settings map[string]any, sources map[string]SourceInfo) []SettingInfo {
	var out []SettingInfo
	flattenSettings(settings, "", func(key string, value any) {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[key]; ok {
			info = si
		}
		if envKey := envKeyFor(key); os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}
		out = append(out, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	})
	return out
}

// flattenSettings walks nested maps in key order, calling fn for each leaf.
func flattenSettings(settings map[string]any, prefix string, fn func(key string, value any)) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := settings[key].(map[string]any); ok {
			flattenSettings(nested, fullKey, fn)
			continue
		}
		fn(fullKey, settings[key])
	}
}

func envKeyFor(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
