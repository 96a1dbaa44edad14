package pool

import (
	"fmt"
	"strings"
	"time"
)

// Policy decides what Acquire does when an endpoint is at capacity.
type Policy int

const (
	// Wait blocks until a session is released, AcquireTimeout elapses, or
	// the context is done.
	Wait Policy = iota
	// FailFast returns ErrPoolExhausted immediately.
	FailFast
)

// String returns the config spelling of the policy.
func (p Policy) String() string {
	switch p {
	case Wait:
		return "wait"
	case FailFast:
		return "fail"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "wait" or "fail".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return Wait, nil
	case "fail", "fail-fast", "failfast":
		return FailFast, nil
	default:
		return Wait, fmt.Errorf("unknown exhaustion policy %q (want wait or fail)", s)
	}
}

// Config bounds and tunes a Manager.
type Config struct {
	// MaxPerEndpoint caps concurrent sessions per endpoint.
	MaxPerEndpoint int
	// AcquireTimeout bounds a Wait acquire. Zero waits for the context only.
	AcquireTimeout time.Duration
	// OnExhausted is the policy at capacity.
	OnExhausted Policy
	// IdleTimeout is how long an unused session survives.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are checked. Zero disables
	// the background sweeper; Sweep can still be called directly.
	SweepInterval time.Duration
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		MaxPerEndpoint: 5,
		AcquireTimeout: 30 * time.Second,
		OnExhausted:    Wait,
		IdleTimeout:    5 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPerEndpoint <= 0 {
		c.MaxPerEndpoint = d.MaxPerEndpoint
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	return c
}
