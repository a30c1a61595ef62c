// Package ui prints operator-facing output: messages on stderr, listings on
// stdout, colored only when the stream is a terminal.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var (
	errOut io.Writer = os.Stderr
	out    io.Writer = os.Stdout
)

// SetWriter overrides the message writer (for testing). nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	errOut = w
}

// SetOutput overrides the listing writer (for testing). nil restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

var (
	stdoutColor = detectColor(os.Stdout)
	stderrColor = detectColor(os.Stderr)
)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

// Interactive reports whether stdin is a terminal.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func paint(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s in bold.
func Bold(s string) string { return paint(stdoutColor, "1", s) }

// Dim returns s dimmed.
func Dim(s string) string { return paint(stdoutColor, "2", s) }

// Green returns s in green.
func Green(s string) string { return paint(stdoutColor, "32", s) }

// Red returns s in red.
func Red(s string) string { return paint(stdoutColor, "31", s) }

// Yellow returns s in yellow.
func Yellow(s string) string { return paint(stdoutColor, "33", s) }

// Cyan returns s in cyan.
func Cyan(s string) string { return paint(stdoutColor, "36", s) }

// OKTag returns a green check mark.
func OKTag() string { return Green("✓") }

// FailTag returns a red cross.
func FailTag() string { return Red("✗") }

// Warn prints a warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(errOut, "%s %s\n", paint(stderrColor, "33", "Warning:"), msg)
}

// Warnf prints a formatted warning to stderr.
func Warnf(format string, args ...any) {
	Warn(fmt.Sprintf(format, args...))
}

// Error prints an error to stderr.
func Error(msg string) {
	fmt.Fprintf(errOut, "%s %s\n", paint(stderrColor, "31", "Error:"), msg)
}

// Errorf prints a formatted error to stderr.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}

// Info prints a message to stderr with no prefix.
func Info(msg string) {
	fmt.Fprintln(errOut, msg)
}

// Infof prints a formatted message to stderr with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(errOut, format+"\n", args...)
}

// Success prints a check-marked message to stderr.
func Success(msg string) {
	fmt.Fprintf(errOut, "%s %s\n", paint(stderrColor, "32", "✓"), msg)
}
