// Package commands builds the whitelisted Nextcloud and PhotoPrism
// maintenance commands and runs them through a Runner.
//
// The gateway splits commands on whitespace without any quoting, so every
// argument built here must be a single token free of whitespace and shell
// metacharacters. Arguments that are not are refused with
// ErrUnsupportedArgument before anything is sent.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/remote"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// ErrUnsupportedArgument is returned for arguments that cannot be passed
// through the gateway as a single safe token.
var ErrUnsupportedArgument = errors.New("unsupported argument")

// Runner executes a command on a service's gateway. *remote.Executor
// implements it.
type Runner interface {
	Run(ctx context.Context, service, command string) (executor.Result, error)
}

// Per-command execution bounds.
const (
	statusTimeout = 30 * time.Second
	scanTimeout   = 10 * time.Minute
	indexTimeout  = 30 * time.Minute
)

func checkArg(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is empty", ErrUnsupportedArgument, name)
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %s %q contains whitespace", ErrUnsupportedArgument, name, v)
	}
	if whitelist.ContainsForbidden(v) {
		return fmt.Errorf("%w: %s %q contains a shell metacharacter", ErrUnsupportedArgument, name, v)
	}
	return nil
}

func run(ctx context.Context, r Runner, service string, timeout time.Duration, argv []string) (executor.Result, error) {
	return r.Run(remote.WithCommandTimeout(ctx, timeout), service, strings.Join(argv, " "))
}
