package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgr.log")
	log := New(Config{Level: "debug", File: path})
	require.NotNil(t, log)
	log.Info("hello", "k", "v")
	// lumberjack creates the file lazily on first write
	assert.FileExists(t, path)
}

func TestNewStderrLogger(t *testing.T) {
	log := New(Config{})
	require.NotNil(t, log)
	assert.False(t, log.Enabled(context.Background(), -8), "debug suppressed at default level")
}
