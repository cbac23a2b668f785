package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ai-game-dev/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuildFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File: config.LogFileConfig{
			Path:     dir,
			Filename: "test.log",
			MaxSize:  1,
		},
		Modules: map[string]string{"game": "warn"},
	}

	atom := zap.NewAtomicLevel()
	log, modules, err := Build(cfg, atom)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, atom.Level())

	log.Info("hello", zap.Int("handle", 1))
	log.Error("boom")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"handle":1`)

	errData, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errData), "boom")
	assert.NotContains(t, string(errData), "hello")

	gameLog, ok := modules["game"]
	require.True(t, ok)
	assert.False(t, gameLog.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, gameLog.Core().Enabled(zapcore.WarnLevel))
}

func TestBuildNoOutput(t *testing.T) {
	log, modules, err := Build(&config.LogConfig{Level: "info", Output: "none"}, zap.NewAtomicLevel())
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Empty(t, modules)
}

func TestBuildStderrOutput(t *testing.T) {
	log, _, err := Build(&config.LogConfig{Level: "warn", Output: "stderr"}, zap.NewAtomicLevel())
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestSetLevel(t *testing.T) {
	SetLevel("error")
	assert.Equal(t, "error", Level())
	SetLevel("info")
	assert.Equal(t, "info", Level())
}
