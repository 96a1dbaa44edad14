package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gatekeeper"
)

var (
	// ErrCommandFailed matches every *CommandError.
	ErrCommandFailed = errors.New("command failed")
	// ErrExhausted matches every *ExhaustionError.
	ErrExhausted = errors.New("attempts exhausted")
)

const rejectedPrefix = "swarmproxy: rejected: "

// CommandError is a command that ran on the gateway, or was refused by it,
// and exited nonzero. It is returned verbatim and never retried.
type CommandError struct {
	Service string
	Command string
	Result  executor.Result
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q exited with status %d", e.Service, e.Command, e.Result.ExitCode)
	if s := strings.TrimSpace(e.Result.Stderr); s != "" {
		first, _, _ := strings.Cut(s, "\n")
		msg += ": " + first
	}
	return msg
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

// Rejected reports whether the gateway refused the command without running
// it, and if so why.
func (e *CommandError) Rejected() (reason string, ok bool) {
	if e.Result.ExitCode != gatekeeper.ExitRejected {
		return "", false
	}
	for _, line := range strings.Split(e.Result.Stderr, "\n") {
		if r, found := strings.CutPrefix(line, rejectedPrefix); found {
			return r, true
		}
	}
	return "", false
}

// ExhaustionError reports that every attempt failed on connectivity.
// Last is the final attempt's error.
type ExhaustionError struct {
	Service  string
	Attempts int
	Last     error
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Service, e.Attempts, e.Last)
}

func (e *ExhaustionError) Unwrap() error { return e.Last }

func (e *ExhaustionError) Is(target error) bool { return target == ErrExhausted }
