// Package audit writes one line per gate stage for every inbound command.
// Lines follow a key=value format suitable for parsing and analysis.
package audit

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stage is the point a gate request has reached.
type Stage string

// Gate stages, in the order a request passes through them. A request ends
// with exactly one of StageCompleted or StageRejected.
const (
	StageReceived  Stage = "RECEIVED"
	StageValidated Stage = "VALIDATED"
	StageExecuting Stage = "EXECUTING"
	StageCompleted Stage = "COMPLETED"
	StageRejected  Stage = "REJECTED"
)

// Event is a single gate audit log entry.
type Event struct {
	Timestamp time.Time
	Stage     Stage

	// Request identifies the inbound request across its stage lines.
	Request string

	// Service is the service type the gateway was invoked for.
	Service string

	// Cmd is the raw command line as received.
	Cmd string

	// Container is the execution target (EXECUTING).
	Container string

	// Reason is the rejection reason (REJECTED).
	Reason string

	// ExitCode and Duration are set on COMPLETED.
	ExitCode int
	Duration time.Duration
}

// Format returns the log entry as a formatted string.
// Format: 2024-01-15T14:32:05Z GATE RECEIVED request=1f0c service=nextcloud cmd="php occ status"
func (e *Event) Format() string {
	var b strings.Builder

	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString(" GATE ")
	b.WriteString(string(e.Stage))

	b.WriteString(" request=")
	b.WriteString(e.Request)
	b.WriteString(" service=")
	b.WriteString(e.Service)
	b.WriteString(" cmd=")
	b.WriteString(quoteValue(e.Cmd))

	switch e.Stage {
	case StageExecuting:
		writeOptionalField(&b, "container", e.Container)
	case StageRejected:
		writeOptionalField(&b, "reason", e.Reason)
	case StageCompleted:
		b.WriteString(" exit=")
		b.WriteString(strconv.Itoa(e.ExitCode))
		b.WriteString(" duration=")
		b.WriteString(formatDuration(e.Duration))
	}

	return b.String()
}

// writeOptionalField appends " key=quoted_value" to the builder if value is non-empty.
func writeOptionalField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(quoteValue(value))
}

// quoteValue always quotes, so untrusted input cannot forge extra fields.
func quoteValue(s string) string {
	return fmt.Sprintf("%q", s)
}

// formatDuration formats a duration as a human-readable string (e.g., "2.3s", "1m30s").
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// Logger writes audit events to an io.Writer. A nil Logger discards.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewLogger creates a new audit logger that writes to the given writer.
func NewLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// SetClock replaces the timestamp source. Intended for tests.
func (l *Logger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Log writes an event to the audit log. A zero Timestamp is filled in.
func (l *Logger) Log(e *Event) error {
	if l == nil || l.w == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	line := e.Format() + "\n"
	if _, err := l.w.Write([]byte(line)); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Request returns a Trail bound to one request.
func (l *Logger) Request(id, service, cmd string) *Trail {
	return &Trail{l: l, id: id, service: service, cmd: cmd}
}

// Trail logs the stages of a single request.
type Trail struct {
	l       *Logger
	id      string
	service string
	cmd     string
}

func (t *Trail) event(stage Stage) *Event {
	return &Event{Stage: stage, Request: t.id, Service: t.service, Cmd: t.cmd}
}

// Received logs a RECEIVED line.
func (t *Trail) Received() error {
	return t.l.Log(t.event(StageReceived))
}

// Validated logs a VALIDATED line.
func (t *Trail) Validated() error {
	return t.l.Log(t.event(StageValidated))
}

// Executing logs an EXECUTING line.
func (t *Trail) Executing(container string) error {
	e := t.event(StageExecuting)
	e.Container = container
	return t.l.Log(e)
}

// Completed logs a COMPLETED line.
func (t *Trail) Completed(exitCode int, duration time.Duration) error {
	e := t.event(StageCompleted)
	e.ExitCode = exitCode
	e.Duration = duration
	return t.l.Log(e)
}

// Rejected logs a REJECTED line.
func (t *Trail) Rejected(reason string) error {
	e := t.event(StageRejected)
	e.Reason = reason
	return t.l.Log(e)
}
