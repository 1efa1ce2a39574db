package logger

import (
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

func Init(env string) {
	InitWithOptions(env, "", "")
}

// InitWithOptions lets config override the env defaults. Empty values keep the defaults.
func InitWithOptions(env, level, format string) {
	lvl := slog.LevelDebug
	if env == "production" {
		lvl = slog.LevelInfo
	}
	if level != "" {
		lvl = parseLevel(level)
	}

	if format == "" {
		format = "text"
		if env == "production" {
			format = "json"
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func LoggerWrapper() *slog.Logger {
	if defaultLogger == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		Init("development")
	}
	return defaultLogger
}
