package gatekeeper

import (
	"errors"
	"fmt"

	"github.com/nextprism/swarmproxy/internal/executor"
)

// ErrValidation matches every rejection produced by Validate.
var ErrValidation = errors.New("validation failed")

// validationError is a rejection kind. Each kind is a distinct sentinel
// that also matches ErrValidation.
type validationError struct {
	reason string
}

func (e *validationError) Error() string { return e.reason }

func (e *validationError) Is(target error) bool { return target == ErrValidation }

// Rejection kinds. Rejected commands are never executed.
var (
	ErrInvalidServiceType  error = &validationError{reason: "invalid service type"}
	ErrEmptyCommand        error = &validationError{reason: "empty command"}
	ErrUnauthorizedCommand error = &validationError{reason: "unauthorized command"}
	ErrDangerousArgument   error = &validationError{reason: "dangerous argument"}
)

// ErrExecutionFailed matches every *ExecutionError.
var ErrExecutionFailed = errors.New("execution failed")

// ExecutionError reports a validated command that did not exit zero. Result
// carries whatever output was captured. Started is false when the local
// process could not be started at all.
type ExecutionError struct {
	Result  executor.Result
	Started bool
	Reason  string
}

func (e *ExecutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution failed: %s", e.Reason)
	}
	return fmt.Sprintf("execution failed: exit code %d", e.Result.ExitCode)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

// Exit codes used on the wire when there is no command exit code to relay.
const (
	ExitRejected = 126
	ExitInternal = 125
)

// RejectReason returns the rejection kind of err ("unauthorized command",
// ...), or "" if err is not a validation error.
func RejectReason(err error) string {
	var ve *validationError
	if errors.As(err, &ve) {
		return ve.reason
	}
	return ""
}

// ExitCode maps the outcome of ValidateAndExecute to a process exit code:
// the command's own code when it ran, ExitRejected for validation failures,
// ExitInternal when the command could not start or was cut off.
func ExitCode(result executor.Result, err error) int {
	if err == nil {
		return result.ExitCode
	}
	if errors.Is(err, ErrValidation) {
		return ExitRejected
	}
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.Started && ee.Result.ExitCode > 0 {
		return ee.Result.ExitCode
	}
	return ExitInternal
}
