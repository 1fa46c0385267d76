package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Stdout(t *testing.T) {
	log, err := New(LogConfig{Level: "debug", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("hello", "key", "value")
	log.Sync()
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "json"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(-1), "debug should be disabled at info level")
	assert.True(t, log.Core().Enabled(0))
}

func TestNew_FileOutputIsRotated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sentinel.log")

	log, err := New(LogConfig{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Warn("written to file", "error", errors.New("boom"))
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "boom")
}

func TestConvertFields_SkipsNonStringKeys(t *testing.T) {
	fields := convertFields("a", 1, 2, "b", "dangling")
	assert.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Key)
}
