package config

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the global slog logger based on the LogConfig.
// When a log file is configured, records go to stderr and to the rotating file.
func SetupLogging(cfg *LogConfig) {
	slog.SetDefault(slog.New(newHandler(cfg, logWriter(cfg))))
}

func newHandler(cfg *LogConfig, w io.Writer) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func logWriter(cfg *LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stderr
	}

	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}
