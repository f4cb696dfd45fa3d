package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrospect_Sources(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, project)
	Reset()
	t.Cleanup(Reset)

	projectFile := filepath.Join(project, "am.toml")
	require.NoError(t, os.WriteFile(projectFile, []byte("[scheduler]\nworkers = 3\n"), 0644))
	t.Setenv("PULSEGRAPH_LOG_JSON", "true")

	settings, err := Introspect()
	require.NoError(t, err)

	byKey := make(map[string]SettingInfo, len(settings))
	var keys []string
	for _, s := range settings {
		byKey[s.Key] = s
		keys = append(keys, s.Key)
	}
	assert.IsIncreasing(t, keys, "settings are sorted by key")

	workers := byKey["scheduler.workers"]
	assert.Equal(t, SourceProject, workers.Source)
	assert.Equal(t, projectFile, workers.SourcePath)

	queue := byKey["scheduler.queue_capacity"]
	assert.Equal(t, SourceDefault, queue.Source)

	logJSON := byKey["log.json"]
	assert.Equal(t, SourceEnvironment, logJSON.Source)
	assert.Equal(t, "PULSEGRAPH_LOG_JSON", logJSON.SourcePath)
}

func TestFlattenSettings(t *testing.T) {
	settings := map[string]any{
		"b": 2,
		"a": map[string]any{"y": true, "x": "one"},
	}

	var keys []string
	flattenSettings(settings, "", func(key string, _ any) {
		keys = append(keys, key)
	})
	assert.Equal(t, []string{"a.x", "a.y", "b"}, keys)
	assert.Equal(t, "PULSEGRAPH_SCHEDULER_WORKERS", envKeyFor("scheduler.workers"))
}
