package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesFile(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Directory: dir, MaxBackups: 2}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	cl := ComponentLogger("test")
	cl.Info().Msg("hello")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"app":"gatecrash"`)
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	names := []string{"a.log", "b.log", "c.log", "keep.txt"}
	for i, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		mod := now.Add(time.Duration(i-len(names)) * time.Hour)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	cleanOldLogs(dir, 2)

	assert.NoFileExists(t, filepath.Join(dir, "a.log"))
	assert.FileExists(t, filepath.Join(dir, "b.log"))
	assert.FileExists(t, filepath.Join(dir, "c.log"))
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)
	assert.NotEmpty(t, info.LocalIP)
}
