package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.log")
	logger, level, err := New(Config{Level: "debug", Format: "console", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	logger.Info("flush complete")
	_ = logger.Sync() // stderr may not support fsync

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"message":"flush complete"`))
}

func TestNew_LevelIsAdjustable(t *testing.T) {
	_, level, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	level.SetLevel(zapcore.WarnLevel)
	assert.False(t, level.Enabled(zapcore.InfoLevel))
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, _, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}
