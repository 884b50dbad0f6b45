package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"conductor/internal/shared/utils/id"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var base atomic.Pointer[slog.Logger]

// SetBase installs the slog logger that component loggers write through.
func SetBase(logger *slog.Logger) {
	if logger == nil {
		return
	}
	base.Store(logger)
}

func baseLogger() *slog.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// ComponentLogger scopes log lines to a component and optional log id.
type ComponentLogger struct {
	component string
	logID     string
}

// NewComponentLogger returns the application logger scoped to a component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

// WithLogID returns a copy that tags every line with logID.
func (l *ComponentLogger) WithLogID(logID string) *ComponentLogger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.logID = logID
	return &clone
}

// FromContext returns a logger tagged with the log id carried by ctx, if any.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = OrNop(logger)
	cl, ok := logger.(*ComponentLogger)
	if !ok {
		return logger
	}
	if logID := id.LogIDFromContext(ctx); logID != "" {
		return cl.WithLogID(logID)
	}
	return cl
}

func (l *ComponentLogger) log(level slog.Level, format string, args ...any) {
	logger := baseLogger()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]any, 0, 4)
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	if l.logID != "" {
		attrs = append(attrs, "log_id", l.logID)
	}
	logger.Log(ctx, level, fmt.Sprintf(format, args...), attrs...)
}

func (l *ComponentLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
func (l *ComponentLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args...) }
func (l *ComponentLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
