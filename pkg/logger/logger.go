package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

func New(lvl string, addSource bool, enviroment string) *slog.Logger {

	return build(os.Stdout, lvl, addSource, enviroment)
}

// NewRotating writes to stdout and to a size-rotated file at path.
// Rotated files are kept for seven days and compressed.
func NewRotating(lvl string, addSource bool, enviroment, path string) *slog.Logger {

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 7,
		Compress:   true,
	}

	return build(io.MultiWriter(os.Stdout, sink), lvl, addSource, enviroment)
}

func build(w io.Writer, lvl string, addSource bool, enviroment string) *slog.Logger {

	level := parseLevel(lvl)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}
	var handler slog.Handler

	if strings.ToLower(enviroment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", enviroment),
	)
}

func parseLevel(level string) slog.Level {

	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
