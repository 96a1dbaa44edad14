// Package term writes user-facing CLI output: command results, progress
// lines, warnings and errors. Operational logging goes through
// internal/clog instead.
//
// Normal output is suppressed by --silent; warnings and errors never are.
package term

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type terminal struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	silent bool
}

var std = &terminal{out: os.Stdout, errOut: os.Stderr}

func (t *terminal) print(fn func(w io.Writer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.silent {
		fn(t.out)
	}
}

func (t *terminal) report(prefix, format string, a []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.errOut, "%s: %s\n", prefix, fmt.Sprintf(format, a...))
}

// SetSilent enables or disables silent mode.
func SetSilent(s bool) {
	std.mu.Lock()
	std.silent = s
	std.mu.Unlock()
}

// IsSilent returns whether silent mode is enabled.
func IsSilent() bool {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.silent
}

// SetOutput sets the writer for normal output. nil restores os.Stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

// SetErrOutput sets the writer for warnings and errors. nil restores
// os.Stderr.
func SetErrOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	std.mu.Lock()
	std.errOut = w
	std.mu.Unlock()
}

// Print writes a to stdout unless silent.
func Print(a ...any) {
	std.print(func(w io.Writer) { _, _ = fmt.Fprint(w, a...) })
}

// Printf writes a formatted line to stdout unless silent.
func Printf(format string, a ...any) {
	std.print(func(w io.Writer) { _, _ = fmt.Fprintf(w, format, a...) })
}

// Println writes a to stdout with a trailing newline unless silent.
func Println(a ...any) {
	std.print(func(w io.Writer) { _, _ = fmt.Fprintln(w, a...) })
}

// Warn writes "Warning: <msg>" to stderr.
func Warn(format string, a ...any) {
	std.report("Warning", format, a)
}

// Error writes "Error: <msg>" to stderr.
func Error(format string, a ...any) {
	std.report("Error", format, a)
}

// Stdout returns the writer for normal output, or io.Discard when silent.
// Relayed remote command output goes through it.
func Stdout() io.Writer {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.silent {
		return io.Discard
	}
	return std.out
}

// Stderr returns the writer for diagnostics.
func Stderr() io.Writer {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.errOut
}

// Reset restores os.Stdout, os.Stderr and normal mode.
func Reset() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out, std.errOut, std.silent = os.Stdout, os.Stderr, false
}

// Discard drops all output. Used by tests.
func Discard() {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out, std.errOut = io.Discard, io.Discard
}
