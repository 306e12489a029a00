// Package logger wraps logrus with the field conventions used across the
// engine: every call site attaches app/module/source identity rather than
// free-form strings.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger scoped to one subsystem (e.g. "dispatcher",
// "gateway", "hre.cron").
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls level/format/output, read from HERMES_LOG_* env vars by
// pkg/config and passed in explicitly so tests can construct loggers without
// touching the environment.
type Config struct {
	Level     string
	Format    string // "text" or "json"
	Component string
}

// New builds a Logger per Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: cfg.Component}
}

// NewDefault builds an info-level, text-format logger for the named
// component. Used where a caller has not wired a configured Logger through
// (tests, early engine bootstrap).
func NewDefault(component string) *Logger {
	return New(Config{Level: "info", Format: "text", Component: component})
}

// With returns a *logrus.Entry pre-populated with the component field plus
// the supplied identity fields (app, module, source, execution_counter,
// correlation_id — whichever apply at the call site).
func (l *Logger) With(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	if l.component != "" {
		fields["component"] = l.component
	}
	return l.Logger.WithFields(fields)
}

// WithField is a convenience wrapper for a single field, mirroring logrus's
// own method so call sites read naturally.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.With(logrus.Fields{key: value})
}
