// Package log wraps logrus with the agent's output pattern, file rotation
// and a bridge that installs the same backend as the log/slog default so
// newer packages can log through slog without a second logging stack.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	base   = logrus.New()
	fields = logrus.Fields{}
)

// Init (re)configures the package-level logger from cfg. Safe to call again
// on SIGHUP-driven reload; it replaces the formatter, level and output set
// without disturbing already-issued *logrus.Entry handles (they read
// through base, which stays the same pointer).
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
	base.SetFormatter(&formatter{pattern: cfg.Pattern, time: cfg.Time})

	mw := NewMultiWriter().Add(os.Stdout)
	if cfg.File.Enabled && cfg.File.Filename != "" {
		mw.AddFileAppender(FileAppenderOpt{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}
	base.SetOutput(mw)

	slog.SetDefault(slog.New(&slogBridge{level: level}))
	return nil
}

// Get returns the package logger as a *logrus.Entry, the unit most callers
// attach fields to.
func Get() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithFields(fields)
}

// Flush is a no-op placeholder kept for symmetry with daemon shutdown
// sequencing; logrus writes synchronously so there is nothing to drain.
func Flush() {}

// slogBridge adapts log/slog calls onto the logrus backend so code that
// prefers the stdlib logging facade and code that prefers logrus share one
// sink and one set of output files.
type slogBridge struct {
	level logrus.Level
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) <= b.level
}

func (b *slogBridge) Handle(_ context.Context, r slog.Record) error {
	entry := Get()
	r.Attrs(func(a slog.Attr) bool {
		entry = entry.WithField(a.Key, a.Value.Any())
		return true
	})
	switch {
	case r.Level >= slog.LevelError:
		entry.Error(r.Message)
	case r.Level >= slog.LevelWarn:
		entry.Warn(r.Message)
	case r.Level >= slog.LevelInfo:
		entry.Info(r.Message)
	default:
		entry.Debug(r.Message)
	}
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return b
}

func (b *slogBridge) WithGroup(_ string) slog.Handler { return b }

func fromSlogLevel(l slog.Level) logrus.Level {
	switch {
	case l >= slog.LevelError:
		return logrus.ErrorLevel
	case l >= slog.LevelWarn:
		return logrus.WarnLevel
	case l >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
