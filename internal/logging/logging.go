// Package logging adapts log/slog to the pion LoggerFactory used by every
// package of the node.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/encodeous/tint"
	"github.com/pion/logging"
	slogmulti "github.com/samber/slog-multi"
)

const (
	LevelTrace = "trace"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// slogTrace sits below slog.LevelDebug.
const slogTrace = slog.LevelDebug - 4

// Options configures a Factory.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string

	// Console receives colored output. Nil uses os.Stderr.
	Console io.Writer

	// Prefix is printed before every console line, e.g. a node name.
	Prefix string

	// File, when set, also receives plain text records.
	File string
}

// Factory implements logging.LoggerFactory on top of slog.
type Factory struct {
	logger *slog.Logger
	file   *os.File
}

// New creates a Factory that fans records out to the console and, when
// configured, a log file.
func New(opts Options) (*Factory, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:        level,
			CustomPrefix: opts.Prefix,
			ReplaceAttr:  replaceLevel,
		}),
	}

	f := &Factory{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		f.file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		handlers = append(handlers, slog.NewTextHandler(f.file, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		}))
	}

	f.logger = slog.New(slogmulti.Fanout(handlers...))
	return f, nil
}

// Slog returns the underlying logger.
func (f *Factory) Slog() *slog.Logger {
	return f.logger
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{log: f.logger.With("scope", scope)}
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelTrace:
		return slogTrace, nil
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if l, ok := a.Value.Any().(slog.Level); ok && l <= slogTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

type leveled struct {
	log *slog.Logger
}

func (l *leveled) logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *leveled) Trace(msg string) { l.log.Log(context.Background(), slogTrace, msg) }
func (l *leveled) Tracef(format string, args ...any) {
	l.logf(slogTrace, format, args...)
}
func (l *leveled) Debug(msg string) { l.log.Debug(msg) }
func (l *leveled) Debugf(format string, args ...any) {
	l.logf(slog.LevelDebug, format, args...)
}
func (l *leveled) Info(msg string) { l.log.Info(msg) }
func (l *leveled) Infof(format string, args ...any) {
	l.logf(slog.LevelInfo, format, args...)
}
func (l *leveled) Warn(msg string) { l.log.Warn(msg) }
func (l *leveled) Warnf(format string, args ...any) {
	l.logf(slog.LevelWarn, format, args...)
}
func (l *leveled) Error(msg string) { l.log.Error(msg) }
func (l *leveled) Errorf(format string, args ...any) {
	l.logf(slog.LevelError, format, args...)
}

var _ logging.LoggerFactory = (*Factory)(nil)
