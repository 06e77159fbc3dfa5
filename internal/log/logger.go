// internal/log/logger.go
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger that carries a component name on every record.
type Logger struct {
	*slog.Logger
	base      *slog.Logger
	component string
}

// Config selects level, output format and destination.
type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Component string
	Output    io.Writer
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	component := cfg.Component
	if component == "" {
		component = ComponentApp
	}
	base := slog.New(handler)
	return &Logger{
		Logger:    base.With(FieldComponent, component),
		base:      base,
		component: component,
	}
}

// Discard returns a logger that writes nowhere. Tests use it.
func Discard() *Logger {
	return New(Config{Output: io.Discard})
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level;
// anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// With returns a logger with extra attributes and the same component.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), base: l.base.With(args...), component: l.component}
}

// WithComponent returns a logger tagged with another component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.base.With(FieldComponent, component), base: l.base, component: component}
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

type contextKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or one over slog.Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{Logger: slog.Default(), base: slog.Default(), component: "unknown"}
}
