package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger fans entries out to two zerolog sinks: JSON lines on the file
// writer, and console-formatted warnings on the error writer.
type Logger struct {
	mu         sync.Mutex
	level      Level
	fileWriter io.Writer
	errWriter  io.Writer
	daemonMode bool

	file    zerolog.Logger
	console zerolog.Logger
}

// NewLogger returns an Info-level logger with warnings on stderr and no
// file sink.
func NewLogger() *Logger {
	l := &Logger{level: LevelInfo, errWriter: os.Stderr}
	l.rebuild()
	return l
}

// rebuild recreates the sinks. The caller holds l.mu or owns l.
func (l *Logger) rebuild() {
	l.file = zerolog.Nop()
	if l.fileWriter != nil {
		l.file = zerolog.New(l.fileWriter).With().Timestamp().Logger()
	}

	l.console = zerolog.Nop()
	if l.errWriter != nil && !l.daemonMode {
		l.console = zerolog.New(zerolog.ConsoleWriter{
			Out:          l.errWriter,
			NoColor:      true,
			PartsExclude: []string{zerolog.TimestampFieldName},
			FormatLevel: func(i any) string {
				if s, _ := i.(string); s != "" {
					return "[" + strings.ToUpper(s) + "]"
				}
				return ""
			},
		}).Level(zerolog.WarnLevel)
	}
}

func (l *Logger) update(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
	l.rebuild()
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetFileOutput sets the JSON sink. nil disables it.
func (l *Logger) SetFileOutput(w io.Writer) {
	l.update(func() { l.fileWriter = w })
}

// SetErrOutput sets the console sink. nil disables it.
func (l *Logger) SetErrOutput(w io.Writer) {
	l.update(func() { l.errWriter = w })
}

// SetDaemonMode suppresses the console sink while daemon is true.
func (l *Logger) SetDaemonMode(daemon bool) {
	l.update(func() { l.daemonMode = daemon })
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	zl := level.zerolog()
	l.file.WithLevel(zl).Msg(msg)
	l.console.WithLevel(zl).Msg(msg)
}

// OpenLogFile opens path for appending, creating parent directories.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
