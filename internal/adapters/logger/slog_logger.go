package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// SlogLogger implements the ports.Logger interface on top of log/slog.
type SlogLogger struct {
	logger *slog.Logger
	level  LogLevel
}

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

// New creates a logger writing to os.Stderr. format is "json" or "text".
func New(level LogLevel, format string) *SlogLogger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level LogLevel, format string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler), level: level}
}

// Level returns the configured threshold.
func (l *SlogLogger) Level() LogLevel {
	return l.level
}

func (l *SlogLogger) log(ctx context.Context, level slog.Level, msg string, err error, fields ...map[string]interface{}) {
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if len(fields) > 0 && fields[0] != nil {
		// Sorted keys keep output stable between runs.
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, fields[0][k]))
		}
	}

	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// Debug logs a message at Debug level.
func (l *SlogLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, slog.LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *SlogLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, slog.LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *SlogLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, slog.LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *SlogLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, slog.LevelError, msg, err, fields...)
}
