// Package remote runs whitelisted maintenance commands on the gateway of a
// logical service. It resolves the service, borrows a pooled session,
// executes, and retries with backoff when the failure is connectivity
// rather than the command itself.
package remote

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/locator"
	"github.com/nextprism/swarmproxy/internal/metrics"
	"github.com/nextprism/swarmproxy/internal/pool"
)

// Defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultCommandTimeout = 60 * time.Second
)

// Resolver finds the endpoint serving a service. *locator.Locator
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, service string) (endpoint.Endpoint, error)
	ReportOutcome(ep endpoint.Endpoint, outcome endpoint.Outcome)
}

// SessionPool lends sessions. *pool.Manager implements it.
type SessionPool interface {
	Acquire(ctx context.Context, ep endpoint.Endpoint) (*pool.Session, error)
	Release(s *pool.Session)
	Discard(s *pool.Session, cause error)
}

// Config tunes retries.
type Config struct {
	MaxAttempts    int
	Backoff        BackoffConfig
	CommandTimeout time.Duration
}

// DefaultConfig returns three attempts, the default backoff and a 60s
// command timeout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        DefaultBackoff(),
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRequestIDs overrides how run ids are generated.
func WithRequestIDs(fn func() string) Option {
	return func(e *Executor) { e.newID = fn }
}

// Executor is the client-side facade. It is safe for concurrent use.
type Executor struct {
	resolver Resolver
	pool     SessionPool
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	newID    func() string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Executor. Zero Config fields take their defaults.
func New(resolver Resolver, p SessionPool, cfg Config, opts ...Option) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}

	e := &Executor{
		resolver: resolver,
		pool:     p,
		cfg:      cfg,
		sleep:    sleepContext,
		newID:    uuid.NewString,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes command on the gateway for service.
//
// A nonzero exit, including a gateway rejection, is returned at once as
// *CommandError alongside its Result. Connectivity failures are retried up
// to MaxAttempts with backoff, then returned as *ExhaustionError. If ctx
// ends, Run stops and returns the context error.
func (e *Executor) Run(ctx context.Context, service, command string) (executor.Result, error) {
	id := e.newID()
	start := time.Now()

	var last error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.backoff(attempt - 1)
			clog.Debug("remote[%s]: retrying %s in %s (attempt %d/%d)", id, service, delay, attempt, e.cfg.MaxAttempts)
			if err := e.sleep(ctx, delay); err != nil {
				e.finish(service, "canceled", start)
				return executor.Result{}, err
			}
		}

		res, err := e.attempt(ctx, id, service, command)
		switch {
		case err == nil:
			metrics.RecordRunAttempt(service, "success")
			e.finish(service, "success", start)
			clog.Info("remote[%s]: %s %q exit=0 duration=%s", id, service, command, res.Duration)
			return res, nil

		case errors.Is(err, ErrCommandFailed):
			metrics.RecordRunAttempt(service, "command_error")
			e.finish(service, "command_error", start)
			clog.Warn("remote[%s]: %v", id, err)
			return res, err

		case ctx.Err() != nil:
			metrics.RecordRunAttempt(service, "canceled")
			e.finish(service, "canceled", start)
			return executor.Result{}, ctx.Err()

		case !retryable(err):
			metrics.RecordRunAttempt(service, "error")
			e.finish(service, "error", start)
			clog.Error("remote[%s]: %s: %v", id, service, err)
			return executor.Result{}, err
		}

		metrics.RecordRunAttempt(service, "connectivity")
		clog.Warn("remote[%s]: attempt %d/%d on %s failed: %v", id, attempt, e.cfg.MaxAttempts, service, err)
		last = err
	}

	e.finish(service, "exhausted", start)
	clog.Error("remote[%s]: %s unreachable after %d attempts", id, service, e.cfg.MaxAttempts)
	return executor.Result{}, &ExhaustionError{Service: service, Attempts: e.cfg.MaxAttempts, Last: last}
}

// attempt performs one resolve-acquire-exec-release cycle. Pool failures
// and discarded sessions are reported to the locator by the pool.
func (e *Executor) attempt(ctx context.Context, id, service, command string) (executor.Result, error) {
	ep, err := e.resolver.Resolve(ctx, service)
	if err != nil {
		return executor.Result{}, err
	}

	s, err := e.pool.Acquire(ctx, ep)
	if err != nil {
		return executor.Result{}, err
	}
	clog.Debug("remote[%s]: running %q on %s", id, command, ep)

	cctx, cancel := context.WithTimeout(ctx, commandTimeout(ctx, e.cfg.CommandTimeout))
	res, err := s.Exec(cctx, command)
	cancel()
	if err != nil {
		e.pool.Discard(s, err)
		return executor.Result{}, err
	}
	e.pool.Release(s)

	if res.ExitCode != 0 {
		return res, &CommandError{Service: service, Command: command, Result: res}
	}
	e.resolver.ReportOutcome(ep, endpoint.Success)
	return res, nil
}

func (e *Executor) backoff(retry int) time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return NextBackoffDelay(e.cfg.Backoff, retry, e.rng)
}

func (e *Executor) finish(service, result string, start time.Time) {
	metrics.RecordRun(service, result, time.Since(start))
}

type timeoutKey struct{}

// WithCommandTimeout returns a context under which Run bounds each attempt's
// execution by d instead of Config.CommandTimeout.
func WithCommandTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func commandTimeout(ctx context.Context, def time.Duration) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return def
}

func retryable(err error) bool {
	return endpoint.IsConnectivity(err) || errors.Is(err, locator.ErrServiceUnavailable)
}
