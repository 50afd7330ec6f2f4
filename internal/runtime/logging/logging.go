package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
)

// LevelTrace sits below slog.LevelDebug and matches Watermill's trace level.
const LevelTrace = slog.LevelDebug - 4

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract used throughout the bridge. It maps
// onto Watermill's logging needs so the router, transports, and pipeline share
// one logger.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// ParseLevel maps a textual level to a slog level. Unknown values fall back
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewJSONServiceLogger writes JSON lines to w at the given level.
func NewJSONServiceLogger(w io.Writer, level string) ServiceLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return NewSlogServiceLogger(slog.New(handler))
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("restbridge: slog logger cannot be nil")
	}
	return &slogServiceLogger{inner: log}
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
// Watermill has no warn level, so Warn is written at info with a severity
// field.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("restbridge: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

type slogServiceLogger struct {
	inner *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{inner: s.inner.With(toAttrs(fields)...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.log(slog.LevelDebug, msg, fields)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.log(slog.LevelInfo, msg, fields)
}

func (s *slogServiceLogger) Warn(msg string, fields LogFields) {
	s.log(slog.LevelWarn, msg, fields)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	if err != nil {
		fields = withField(fields, "error", err.Error())
	}
	s.log(slog.LevelError, msg, fields)
}

func (s *slogServiceLogger) Trace(msg string, fields LogFields) {
	s.log(LevelTrace, msg, fields)
}

func (s *slogServiceLogger) log(level slog.Level, msg string, fields LogFields) {
	s.inner.Log(context.Background(), level, msg, toAttrs(fields)...)
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	return &watermillServiceLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Warn(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(withField(fields, "severity", "warn")))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter
// so the router and transports log through the same sink.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("restbridge: ServiceLogger cannot be nil")
	}
	return &serviceLoggerAdapter{base: log}
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

// Discard returns a ServiceLogger that drops everything.
func Discard() ServiceLogger {
	return NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func withField(fields LogFields, key string, value any) LogFields {
	out := make(LogFields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

func toAttrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
