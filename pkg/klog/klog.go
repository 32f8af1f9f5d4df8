// Package klog is the kernel's ambient structured logger, a thin wrapper
// over github.com/sirupsen/logrus fixing a "component" field per
// subsystem. It plays the role runsc's own pkg/log plays for runsc
// (log.Infof/Debugf/Warningf on a shared, leveled emitter), using logrus
// directly since that is the concrete logging dependency already in
// go.mod.
package klog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func root() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// SetLevel sets the global log level (e.g. for a --debug CLI flag).
func SetLevel(level logrus.Level) {
	root().SetLevel(level)
}

// Logger is a per-component logger.
type Logger struct {
	entry *logrus.Entry
}

// For returns the logger for the named subsystem (e.g. "kernel",
// "registry", "procid", "mm", "console").
func For(component string) *Logger {
	return &Logger{entry: root().WithField("component", component)}
}

// With returns a derived logger with additional structured fields, for
// call sites that want to attach e.g. a pid to every subsequent line.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
