// Package logger provides structured JSON logging with configurable log levels.
// It wraps the standard log/slog package and provides a simple interface for
// application-wide logging, with optional size-based rotation of a file sink.
package logger
