package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/guysoft/craftbeerpibot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "bot.log")
	var console bytes.Buffer

	logger, err := New(config.Config{LogLevel: "info", LogFilePath: logPath, LogMaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("bot started", "chat_id", 42)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(console.Bytes()), &record))
	assert.Equal(t, "bot started", record["msg"])
	assert.Equal(t, "craftbeerpibot", record["app"])
	assert.EqualValues(t, 42, record["chat_id"])

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bot started")
	assert.NotContains(t, string(raw), "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
