// Package clog provides operational logging for swarmproxy, backed by
// zerolog. This is distinct from user-facing output (see internal/term) and
// from the gate audit trail (see internal/audit).
//
// Log levels:
//   - Debug: Verbose diagnostic information, only with --debug
//   - Info: Normal operational events
//   - Warn: Unexpected conditions that don't prevent operation
//   - Error: Failures that affect functionality
//
// Output destinations:
//   - File: JSON lines, all levels at or above the configured level
//   - Stderr: Warn and Error only, console formatted, disabled in daemon mode
package clog

import (
	"strings"

	"github.com/rs/zerolog"
)

// Level is the severity of an entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levels = [...]struct {
	name string
	zl   zerolog.Level
}{
	LevelDebug: {"DEBUG", zerolog.DebugLevel},
	LevelInfo:  {"INFO", zerolog.InfoLevel},
	LevelWarn:  {"WARN", zerolog.WarnLevel},
	LevelError: {"ERROR", zerolog.ErrorLevel},
}

func (l Level) valid() bool { return l >= 0 && int(l) < len(levels) }

func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l Level) zerolog() zerolog.Level {
	if !l.valid() {
		return zerolog.NoLevel
	}
	return levels[l].zl
}

// ParseLevel accepts the level names in any case, plus "warning" and
// "err". Anything else is Info.
func ParseLevel(s string) Level {
	switch name := strings.ToUpper(strings.TrimSpace(s)); name {
	case "WARNING":
		return LevelWarn
	case "ERR":
		return LevelError
	default:
		for l := range levels {
			if levels[l].name == name {
				return Level(l)
			}
		}
		return LevelInfo
	}
}
