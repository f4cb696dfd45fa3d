package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildSettings(t *testing.T) {
	info := Info{Version: "dev"}
	fillFromBuildSettings(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	})

	assert.Equal(t, "0123456789abcdef0123", info.CommitHash)
	assert.True(t, info.Modified)
	assert.Equal(t, "pulsegraph dev (commit 0123456789ab+dirty, built 2026-03-01T12:00:00Z)", info.String())
}

func TestFillFromBuildSettings_LdflagsWin(t *testing.T) {
	info := Info{CommitHash: "release", BuildTime: "today"}
	fillFromBuildSettings(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc"},
		{Key: "vcs.time", Value: "yesterday"},
	})
	assert.Equal(t, "release", info.CommitHash)
	assert.Equal(t, "today", info.BuildTime)
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.CommitHash)
	assert.Contains(t, info.Platform, "/")
}
