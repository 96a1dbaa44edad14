package clog

import (
	"io"
	"os"
	"strings"
)

var std = NewLogger()

// Options selects the sinks of the process-wide logger.
type Options struct {
	Level Level

	// Path receives JSON entries at or above Level. Empty disables the file.
	Path string

	// Daemon drops the human-readable stderr sink. A daemon without Path
	// writes its JSON entries to stderr so they reach the container log.
	Daemon bool
}

// Configure replaces the process-wide logger according to opts. The
// console sink of the logger it replaces is kept.
func Configure(opts Options) error {
	l := NewLogger()
	std.mu.Lock()
	console := std.errWriter
	std.mu.Unlock()
	l.SetErrOutput(console)
	l.SetLevel(opts.Level)
	l.SetDaemonMode(opts.Daemon)

	switch {
	case opts.Path != "":
		f, err := OpenLogFile(opts.Path)
		if err != nil {
			return err
		}
		l.SetFileOutput(f)
	case opts.Daemon:
		l.SetFileOutput(os.Stderr)
	}

	_ = closeFile(ReplaceGlobal(l))
	return nil
}

// SetLevel changes the level of the process-wide logger.
func SetLevel(level Level) { std.SetLevel(level) }

// SetErrOutput redirects the console sink. nil disables it.
func SetErrOutput(w io.Writer) { std.SetErrOutput(w) }

func Debug(format string, args ...any) { std.Debug(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Error(format string, args ...any) { std.Error(format, args...) }

// Close flushes and closes the log file opened by Configure, if any.
func Close() error {
	return closeFile(std)
}

func closeFile(l *Logger) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.fileWriter.(*os.File)
	if !ok || f == os.Stderr || f == os.Stdout {
		return nil
	}
	l.fileWriter = nil
	l.rebuild()
	return f.Close()
}

// Reset restores the default logger: Info and above, warnings on stderr.
func Reset() {
	std = NewLogger()
}

// Discard silences every sink.
func Discard() {
	std.SetFileOutput(io.Discard)
	std.SetErrOutput(io.Discard)
}

// TestLogger returns a Debug-level logger writing JSON entries to w and
// nothing to the console.
func TestLogger(w io.Writer) *Logger {
	l := NewLogger()
	l.SetFileOutput(w)
	l.SetErrOutput(nil)
	l.SetLevel(LevelDebug)
	return l
}

// ReplaceGlobal installs l and returns the logger it replaced.
func ReplaceGlobal(l *Logger) *Logger {
	old := std
	std = l
	return old
}

// Writer adapts the process-wide logger to an io.Writer, one entry per
// Write, for libraries such as net/http that log through *log.Logger.
func Writer(level Level) io.Writer {
	return levelWriter(level)
}

type levelWriter Level

func (w levelWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		std.log(Level(w), "%s", msg)
	}
	return len(p), nil
}
