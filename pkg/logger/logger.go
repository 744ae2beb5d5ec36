package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by request-scoped loggers.
type ContextKey string

// RequestIDKey is the context key under which the request ID travels.
const RequestIDKey ContextKey = "request_id"

// Logger is a wrapper around logrus.Logger.
type Logger struct {
	*logrus.Logger
	component string
}

// Config contains logging configuration.
type Config struct {
	Level  string
	Format string
}

// New creates a new logger instance for a named component.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewDefault creates a logger with default configuration.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info", Format: "text"})
}

// WithComponent returns a child logger tagged with a sub-component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger, component: name}
}

// WithContext returns an entry enriched with the component and any request ID
// present on the context.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// WithRequestID stores a request ID on the context for downstream log entries.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
