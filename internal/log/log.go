// Package log provides the structured logger shared by every portage
// package. Operator-facing messages go through internal/ui instead.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger
var fileWriter *FileWriter

// Options configures the logger.
type Options struct {
	// Verbose enables debug/info output to stderr (non-interactive only)
	Verbose bool
	// JSONFormat uses JSON output format for stderr
	JSONFormat bool
	// Interactive suppresses debug/info on stderr so log lines do not
	// interleave with the shell prompt.
	Interactive bool
	// DebugDir is the directory for debug log files. If empty, file logging is disabled.
	DebugDir string
	// RetentionDays is how many days to keep log files (0 = no cleanup)
	RetentionDays int
	// Stderr is the writer for stderr output (defaults to os.Stderr)
	Stderr io.Writer
}

// Init initializes the global logger with the given options.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose && !opts.Interactive {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}

	var handlers []slog.Handler
	if opts.JSONFormat {
		handlers = append(handlers, slog.NewJSONHandler(stderr, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}

		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		Close()
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: redact}))
	}

	logger = slog.New(&fanout{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close closes the debug file if one was opened.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// With returns a logger with additional context.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// SetOutput sends all levels to w as text (for testing).
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: redact}))
	slog.SetDefault(logger)
}

// SetSessionID tags every subsequent message with session_id so the lines of
// one interactive shell can be correlated in the debug files.
func SetSessionID(id string) {
	logger = slog.New(logger.Handler().WithAttrs([]slog.Attr{
		slog.String("session_id", id),
	}))
	slog.SetDefault(logger)
}

// Redacted replaces the value of any attribute whose key names a secret.
const Redacted = "[REDACTED]"

// secretKeys are matched against lower-cased attribute keys.
var secretKeys = []string{"token", "secret", "password", "verifier", "api_key", "apikey", "authorization"}

// keyed is satisfied by credential.Credential.
type keyed interface {
	Keys() []string
}

// CredentialKeys returns an attribute naming the fields of cred. The values
// are never logged.
func CredentialKeys(cred keyed) slog.Attr {
	return slog.Any("credential_keys", cred.Keys())
}

// redact keeps credential material out of every handler. Secret-named
// attributes lose their value and a credential passed whole is reduced to
// its field names.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, Redacted)
		}
	}
	if a.Value.Kind() == slog.KindAny {
		if cred, ok := a.Value.Any().(keyed); ok {
			return slog.Any(a.Key, cred.Keys())
		}
	}
	return a
}

func init() {
	logger = slog.Default()
}
