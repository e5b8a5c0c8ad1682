// Package logging provides leveled structured logging for yuusim.
//
// Loggers are plain *slog.Logger values. Two custom levels extend slog:
//   - [LevelSuccess] sits between Info and Warn and marks completed runs
//   - [LevelCritical] sits above Error
//
// An optional rotating file sink can be attached next to the console writer.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom levels. Their numeric distance from the slog defaults mirrors the
// DEBUG/INFO/SUCCESS/WARNING/ERROR/CRITICAL ladder.
const (
	LevelTrace    = slog.LevelDebug - 4
	LevelSuccess  = slog.LevelInfo + 2
	LevelCritical = slog.LevelError + 4
)

const (
	DefaultMaxSizeMB  = 1
	DefaultMaxBackups = 5
)

// Options configures a Logger.
type Options struct {
	Level  string
	Format string // "text" or "json"

	// File enables a rotating file sink when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger couples a slog.Logger with its adjustable level and file sink.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// ParseLevel maps a level name to a slog.Level.
// Unknown names are an error; an empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "success":
		return LevelSuccess, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
	}
}

func levelLabel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch lvl {
	case LevelTrace:
		a.Value = slog.StringValue("TRACE")
	case LevelSuccess:
		a.Value = slog.StringValue("SUCCESS")
	case LevelCritical:
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

// New builds a Logger writing to w and, when opts.File is set, to a
// size-rotated file as well.
func New(w io.Writer, opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(lvl)

	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		if w == nil {
			w = l.file
		} else {
			w = io.MultiWriter(w, l.file)
		}
	}
	if w == nil {
		w = io.Discard
	}

	hopts := &slog.HandlerOptions{Level: l.level, ReplaceAttr: levelLabel}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, hopts)
	case "json":
		handler = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %q", opts.Format)
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(lvl slog.Level) { l.level.Set(lvl) }

// Level reports the current minimum level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Success logs msg at LevelSuccess.
func Success(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	l.Log(ctx, LevelSuccess, msg, args...)
}

// Critical logs msg at LevelCritical.
func Critical(ctx context.Context, l *slog.Logger, msg string, args ...any) {
	l.Log(ctx, LevelCritical, msg, args...)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
