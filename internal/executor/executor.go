// Package executor provides the interface and types for local command execution.
package executor

import (
	"context"
	"time"
)

// Executor runs a command on the local host.
type Executor interface {
	Execute(ctx context.Context, req Request) Response
}

// Request contains the command execution parameters. Command and Args are
// passed to the operating system as argv; nothing is interpreted by a shell.
type Request struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// Result is the outcome of a command that ran. It is never mutated after
// it is returned.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Response contains the result of command execution.
type Response struct {
	Status string `json:"status"` // "completed", "timeout", "error"
	Result
	Error string `json:"error,omitempty"`
}

// Status constants for Response.Status.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)
