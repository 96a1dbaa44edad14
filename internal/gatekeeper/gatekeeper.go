// Package gatekeeper decides whether an untrusted command line is one of
// the whitelisted maintenance operations, and if so runs it inside the
// service's container with docker exec. The command is passed as argv;
// no shell ever sees it.
package gatekeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextprism/swarmproxy/internal/audit"
	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/docker"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/metrics"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// DefaultTimeout bounds a single local execution.
const DefaultTimeout = 30 * time.Minute

// CommandSpec is a validated command.
type CommandSpec struct {
	ServiceType string
	Raw         string
	Args        []string
}

// Gatekeeper validates and executes commands. It holds no mutable state
// after construction and is safe for concurrent use.
type Gatekeeper struct {
	table     *whitelist.Table
	targets   Targets
	exec      executor.Executor
	audit     *audit.Logger
	dockerBin string
	timeout   time.Duration
	newID     func() string
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithAuditLogger sets where stage lines go. Without it no audit trail is
// written.
func WithAuditLogger(l *audit.Logger) Option {
	return func(g *Gatekeeper) { g.audit = l }
}

// WithDockerBinary overrides the docker CLI path.
func WithDockerBinary(path string) Option {
	return func(g *Gatekeeper) {
		if path != "" {
			g.dockerBin = path
		}
	}
}

// WithTimeout bounds each local execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gatekeeper) { g.timeout = d }
}

// WithRequestIDs overrides request id generation.
func WithRequestIDs(fn func() string) Option {
	return func(g *Gatekeeper) { g.newID = fn }
}

// New creates a Gatekeeper. targets may be nil, in which case every
// service type runs in a container named after it.
func New(table *whitelist.Table, targets Targets, exec executor.Executor, opts ...Option) *Gatekeeper {
	if targets == nil {
		targets = Targets{}
	}
	g := &Gatekeeper{
		table:     table,
		targets:   targets,
		exec:      exec,
		dockerBin: docker.DefaultBinary,
		timeout:   DefaultTimeout,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Table returns the whitelist the gatekeeper enforces.
func (g *Gatekeeper) Table() *whitelist.Table {
	return g.table
}

// Validate checks raw against the whitelist for serviceType without
// executing anything.
func (g *Gatekeeper) Validate(serviceType, raw string) (CommandSpec, error) {
	if !g.table.Has(serviceType) {
		return CommandSpec{}, fmt.Errorf("%w: %q", ErrInvalidServiceType, serviceType)
	}
	if strings.TrimSpace(raw) == "" {
		return CommandSpec{}, ErrEmptyCommand
	}

	tokens := whitelist.Tokenize(raw)

	if matched, _ := g.table.Match(serviceType, tokens); !matched {
		return CommandSpec{}, fmt.Errorf("%w: %q is not allowed for %s", ErrUnauthorizedCommand, raw, serviceType)
	}

	// Every token, including the matched prefix and verb.
	if i := whitelist.FirstForbidden(tokens); i >= 0 {
		return CommandSpec{}, fmt.Errorf("%w: token %d %q contains one of %q", ErrDangerousArgument, i, tokens[i], whitelist.ForbiddenChars)
	}

	return CommandSpec{ServiceType: serviceType, Raw: raw, Args: tokens}, nil
}

// ValidateAndExecute validates raw and, if accepted, runs it with
// `docker exec <container> <tokens...>`. A nonzero exit returns the result
// together with an *ExecutionError.
func (g *Gatekeeper) ValidateAndExecute(ctx context.Context, serviceType, raw string) (executor.Result, error) {
	trail := g.audit.Request(g.newID(), serviceType, raw)
	_ = trail.Received()

	spec, err := g.Validate(serviceType, raw)
	if err != nil {
		reason := RejectReason(err)
		_ = trail.Rejected(reason)
		metrics.RecordGateDecision(serviceType, strings.ReplaceAll(reason, " ", "_"))
		clog.Warn("gate: rejected %s command: %v", serviceType, err)
		return executor.Result{}, err
	}
	_ = trail.Validated()
	metrics.RecordGateDecision(serviceType, "allowed")

	container := g.targets.Container(spec.ServiceType)
	_ = trail.Executing(container)
	clog.Debug("gate: executing %v in %s", spec.Args, container)

	resp := g.exec.Execute(ctx, executor.Request{
		Command: g.dockerBin,
		Args:    docker.ExecArgs(container, spec.Args),
		Timeout: g.timeout,
	})
	result := resp.Result

	_ = trail.Completed(result.ExitCode, result.Duration)
	metrics.RecordGateExecution(spec.ServiceType, result.ExitCode, result.Duration)

	switch resp.Status {
	case executor.StatusCompleted:
		if result.ExitCode != 0 {
			clog.Info("gate: %s command exited %d", spec.ServiceType, result.ExitCode)
			return result, &ExecutionError{Result: result, Started: true}
		}
		return result, nil
	case executor.StatusTimeout:
		clog.Warn("gate: %s command timed out after %v", spec.ServiceType, result.Duration)
		return result, &ExecutionError{Result: result, Started: true, Reason: resp.Error}
	default:
		clog.Error("gate: %s command could not start: %s", spec.ServiceType, resp.Error)
		return result, &ExecutionError{Result: result, Reason: resp.Error}
	}
}
