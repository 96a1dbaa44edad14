package executor

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

// RealExecutor runs processes on the local host with os/exec.
type RealExecutor struct{}

func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Execute runs req.Command with req.Args as argv. A process that exits
// nonzero is StatusCompleted; one stopped by req.Timeout or ctx is
// StatusTimeout with ExitCode -1.
func (e *RealExecutor) Execute(ctx context.Context, req Request) Response {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	err := cmd.Run()

	resp := Response{
		Status: StatusCompleted,
		Result: Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		},
	}
	if err == nil {
		return resp
	}

	var exitErr *exec.ExitError
	var execErr *exec.Error
	switch {
	case ctx.Err() != nil:
		resp.Status, resp.Error = StatusTimeout, "command timed out"
	case errors.As(err, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
		return resp
	case errors.As(err, &execErr), errors.Is(err, fs.ErrNotExist):
		resp.Status, resp.Error = StatusError, "executable not found: "+req.Command
	default:
		resp.Status, resp.Error = StatusError, err.Error()
	}
	resp.ExitCode = -1
	return resp
}

// FuncExecutor adapts a function into an Executor.
type FuncExecutor func(ctx context.Context, req Request) Response

func (f FuncExecutor) Execute(ctx context.Context, req Request) Response {
	return f(ctx, req)
}
