package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/guysoft/craftbeerpibot/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger: JSON records to console and to a rotated
// file under cfg.LogFilePath. An empty LogFilePath logs to console only.
func New(cfg config.Config, console io.Writer) (*slog.Logger, error) {
	if console == nil {
		console = os.Stdout
	}

	writer := console
	if cfg.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
			return nil, err
		}
		writer = io.MultiWriter(console, &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)})
	return slog.New(handler).With("app", "craftbeerpibot"), nil
}

// Discard is used where a logger is required but output is not wanted.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
