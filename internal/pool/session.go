package pool

import (
	"context"
	"time"

	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
)

// Conn is an authenticated transport to one gateway.
type Conn interface {
	// Exec runs command remotely. A nonzero remote exit is a Result, not an
	// error; errors are transport failures.
	Exec(ctx context.Context, command string) (executor.Result, error)
	Close() error
}

// aliveChecker is implemented by connections that can probe themselves
// before reuse.
type aliveChecker interface {
	Alive() bool
}

// Dialer opens new connections.
type Dialer interface {
	Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, ep endpoint.Endpoint) (Conn, error)

// Dial calls f(ctx, ep).
func (f DialerFunc) Dial(ctx context.Context, ep endpoint.Endpoint) (Conn, error) {
	return f(ctx, ep)
}

// Session is a pooled connection bound to one endpoint for its whole life.
// It is handed to exactly one caller between Acquire and Release/Discard.
type Session struct {
	ep   endpoint.Endpoint
	conn Conn
	pool *endpointPool
	gen  uint64

	// Guarded by pool.mu.
	inUse      bool
	lastUsedAt time.Time
}

// Endpoint returns the endpoint the session is bound to.
func (s *Session) Endpoint() endpoint.Endpoint {
	return s.ep
}

// Exec runs command on the session's connection.
func (s *Session) Exec(ctx context.Context, command string) (executor.Result, error) {
	return s.conn.Exec(ctx, command)
}

func (s *Session) alive() bool {
	if ac, ok := s.conn.(aliveChecker); ok {
		return ac.Alive()
	}
	return true
}
