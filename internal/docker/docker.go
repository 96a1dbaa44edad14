// Package docker drives the docker CLI. Nothing here talks to the daemon
// socket; DOCKER_HOST, contexts and ~/.docker/config.json apply as usual.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// DefaultBinary is the docker CLI looked up in PATH.
const DefaultBinary = "docker"

var (
	// ErrDockerNotRunning matches a CommandError whose stderr shows the
	// daemon could not be reached.
	ErrDockerNotRunning = errors.New("docker daemon is not running")

	// ErrNoResults is returned by strict queries that printed nothing.
	ErrNoResults = errors.New("no results from docker command")
)

// daemonDown are stderr fragments printed when the daemon is unreachable.
var daemonDown = []string{
	"Cannot connect to the Docker daemon",
	"error during connect",
	"Is the docker daemon running",
}

// CommandError is a docker invocation that failed to start or exited
// nonzero.
type CommandError struct {
	Args     []string
	ExitCode int // -1 when the process never ran
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("docker %s failed: %v", e.verb(), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nstderr: " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Is(target error) bool {
	if target != ErrDockerNotRunning {
		return false
	}
	for _, s := range daemonDown {
		if strings.Contains(e.Stderr, s) {
			return true
		}
	}
	return false
}

func (e *CommandError) verb() string {
	if len(e.Args) == 0 {
		return ""
	}
	if len(e.Args) > 1 && (e.Args[0] == "service" || e.Args[0] == "node") {
		return e.Args[0] + " " + e.Args[1]
	}
	return e.Args[0]
}

// CLI invokes a docker binary.
type CLI struct {
	Binary string
}

// New returns a CLI for binary; empty means DefaultBinary.
func New(binary string) *CLI {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLI{Binary: binary}
}

func (c *CLI) binary() string {
	if c == nil || c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

// Run executes docker with args and returns its stdout.
func (c *CLI) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	ce := &CommandError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		ce.Err = ctx.Err()
	}
	return "", ce
}

// CheckDaemon verifies the daemon answers. A missing binary is reported as
// such; every other failure wraps ErrDockerNotRunning.
func (c *CLI) CheckDaemon(ctx context.Context) error {
	_, err := c.Run(ctx, "info", "--format", "{{.ServerVersion}}")
	if err == nil {
		return nil
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("docker CLI not found: %w", err)
	}
	if errors.Is(err, ErrDockerNotRunning) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDockerNotRunning, err)
}

// queryLines runs a docker listing with --format '{{json .}}' and decodes
// one T per output line. Empty output is ErrNoResults when strict and an
// empty slice otherwise.
func queryLines[T any](ctx context.Context, c *CLI, strict bool, args ...string) ([]T, error) {
	args = append(args, "--format", "{{json .}}")
	out, err := c.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	items, err := decodeLines[T](out)
	if err != nil {
		return nil, fmt.Errorf("docker %s: %w", (&CommandError{Args: args}).verb(), err)
	}
	if len(items) == 0 && strict {
		return nil, ErrNoResults
	}
	return items, nil
}

func decodeLines[T any](out string) ([]T, error) {
	var items []T
	for n, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		items = append(items, item)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// ExecArgs returns the docker arguments that run argv inside container:
// exec <container> <argv...>. No shell is involved.
func ExecArgs(container string, argv []string) []string {
	return append([]string{"exec", container}, argv...)
}
