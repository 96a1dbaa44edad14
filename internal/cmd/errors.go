package cmd

import (
	"errors"
	"fmt"

	"github.com/nextprism/swarmproxy/internal/docker"
	"github.com/nextprism/swarmproxy/internal/remote"
)

// ExitCodeError carries a process exit code out of a command. main exits
// with Code without printing anything further.
type ExitCodeError struct {
	Code int
}

// NewExitCodeError returns an ExitCodeError for code.
func NewExitCodeError(code int) *ExitCodeError {
	return &ExitCodeError{Code: code}
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// dockerNotRunningError returns a user-friendly error when Docker is not running.
func dockerNotRunningError() error {
	return fmt.Errorf("docker is not running; please start Docker and try again")
}

// dockerError maps docker CLI failures to user-facing messages. Returns
// nil if err is not a docker availability problem.
func dockerError(err error) error {
	if errors.Is(err, docker.ErrDockerNotRunning) {
		return dockerNotRunningError()
	}
	return nil
}

// remoteExitCode picks the exit code for a failed remote run: the remote
// command's own status when it ran, 1 otherwise.
func remoteExitCode(err error) int {
	var ce *remote.CommandError
	if errors.As(err, &ce) && ce.Result.ExitCode > 0 {
		return ce.Result.ExitCode
	}
	return 1
}
