package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reedfamily/mcbridge/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestNew_DebugOverridesLevel(t *testing.T) {
	l, err := New(config.LoggingConfig{Level: "error"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcbridge.log")
	l, err := New(config.LoggingConfig{
		Level:  "info",
		Format: "console",
		File:   config.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	}, false)
	require.NoError(t, err)

	l.Info("bridge started", zap.String("source", "file"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bridge started")
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
