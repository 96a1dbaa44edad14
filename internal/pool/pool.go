// Package pool keeps a bounded set of reusable gateway sessions per
// endpoint. Each endpoint has its own lock and slot semaphore; the manager
// lock only guards the endpoint map and is never held across I/O.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/metrics"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool closed")

// ConnectionError reports a failed Acquire. Err is an
// *endpoint.ConnectivityError of kind dial, handshake, timeout or pool
// exhaustion.
type ConnectionError struct {
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Manager.
type Option func(*Manager)

// WithReporter sets where endpoint failures are reported.
func WithReporter(r endpoint.Reporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithClock overrides the time source used for idle accounting.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns the per-endpoint pools.
type Manager struct {
	cfg      Config
	dialer   Dialer
	reporter endpoint.Reporter
	clock    Clock

	mu     sync.Mutex
	pools  map[endpoint.Endpoint]*endpointPool
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type endpointPool struct {
	ep    endpoint.Endpoint
	slots chan struct{} // one token per session in use or being dialed

	mu     sync.Mutex
	idle   []*Session // most recently used last
	open   map[*Session]struct{}
	gen    uint64
	closed bool
}

// New creates a Manager and starts its idle sweeper.
func New(dialer Dialer, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		clock:  realClock{},
		pools:  make(map[endpoint.Endpoint]*endpointPool),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

func (m *Manager) poolFor(ep endpoint.Endpoint) (*endpointPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrPoolClosed
	}
	p, ok := m.pools[ep]
	if !ok {
		p = &endpointPool{
			ep:    ep,
			slots: make(chan struct{}, m.cfg.MaxPerEndpoint),
			open:  make(map[*Session]struct{}),
		}
		m.pools[ep] = p
	}
	return p, nil
}

// Acquire returns a session for ep, reusing an idle one when possible.
// At capacity it applies the configured policy. Failures other than caller
// cancellation are returned as *ConnectionError and reported to the
// reporter.
func (m *Manager) Acquire(ctx context.Context, ep endpoint.Endpoint) (*Session, error) {
	start := m.clock.Now()

	p, err := m.poolFor(ep)
	if err != nil {
		return nil, err
	}

	if err := m.takeSlot(ctx, p); err != nil {
		if errors.Is(err, endpoint.ErrPoolExhausted) {
			metrics.RecordPoolAcquire(ep.String(), "exhausted", m.clock.Now().Sub(start))
			m.report(ep, endpoint.Failure)
			return nil, &ConnectionError{Endpoint: ep, Err: err}
		}
		metrics.RecordPoolAcquire(ep.String(), "canceled", m.clock.Now().Sub(start))
		return nil, err
	}

	if s := m.reuseIdle(p); s != nil {
		metrics.RecordPoolAcquire(ep.String(), "reused", m.clock.Now().Sub(start))
		return s, nil
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, ep)
	if err != nil {
		<-p.slots
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			metrics.RecordPoolAcquire(ep.String(), "canceled", m.clock.Now().Sub(start))
			return nil, ctxErr
		}
		cerr := endpoint.Classify(endpoint.ErrDialFailed, ep, err)
		metrics.RecordPoolAcquire(ep.String(), "failed", m.clock.Now().Sub(start))
		clog.Warn("pool: dial %s failed: %v", ep, err)
		m.report(ep, endpoint.Failure)
		return nil, &ConnectionError{Endpoint: ep, Err: cerr}
	}

	s := &Session{ep: ep, conn: conn, pool: p, gen: gen, inUse: true, lastUsedAt: m.clock.Now()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	p.open[s] = struct{}{}
	m.publish(p)
	p.mu.Unlock()

	metrics.RecordPoolAcquire(ep.String(), "dialed", m.clock.Now().Sub(start))
	clog.Debug("pool: opened session to %s", ep)
	return s, nil
}

// takeSlot reserves capacity on p according to the exhaustion policy.
func (m *Manager) takeSlot(ctx context.Context, p *endpointPool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	exhausted := endpoint.NewConnectivityError(endpoint.ErrPoolExhausted, p.ep,
		fmt.Errorf("%d sessions in use", m.cfg.MaxPerEndpoint))

	if m.cfg.OnExhausted == FailFast {
		return exhausted
	}

	var timeout <-chan time.Time
	if m.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(m.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return exhausted
	case <-m.stop:
		return ErrPoolClosed
	}
}

// reuseIdle pops the most recently used live session, closing stale ones.
// The caller holds a slot.
func (m *Manager) reuseIdle(p *endpointPool) *Session {
	for {
		p.mu.Lock()
		n := len(p.idle)
		if n == 0 || p.closed {
			p.mu.Unlock()
			return nil
		}
		s := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]

		if m.clock.Now().Sub(s.lastUsedAt) > m.cfg.IdleTimeout {
			delete(p.open, s)
			m.publish(p)
			p.mu.Unlock()
			_ = s.conn.Close()
			continue
		}
		s.inUse = true
		m.publish(p)
		p.mu.Unlock()

		// Probe outside the lock; a dead session is dropped silently since
		// idle connections are expected to be cut by restarts.
		if !s.alive() {
			clog.Debug("pool: dropping stale session to %s", p.ep)
			p.mu.Lock()
			delete(p.open, s)
			s.inUse = false
			m.publish(p)
			p.mu.Unlock()
			_ = s.conn.Close()
			continue
		}
		return s
	}
}

// Release returns a healthy session to its pool. Releasing a session twice,
// or after Discard, is a no-op.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	p := s.pool

	p.mu.Lock()
	if !s.inUse {
		p.mu.Unlock()
		return
	}
	s.inUse = false

	if p.closed || s.gen != p.gen {
		delete(p.open, s)
		m.publish(p)
		p.mu.Unlock()
		<-p.slots
		_ = s.conn.Close()
		return
	}

	s.lastUsedAt = m.clock.Now()
	p.idle = append(p.idle, s)
	m.publish(p)
	p.mu.Unlock()
	<-p.slots
}

// Discard destroys a session that failed during use. Connectivity failures
// are reported against the endpoint; caller cancellation is not.
func (m *Manager) Discard(s *Session, cause error) {
	if s == nil {
		return
	}
	p := s.pool

	p.mu.Lock()
	if !s.inUse {
		p.mu.Unlock()
		return
	}
	s.inUse = false
	delete(p.open, s)
	m.publish(p)
	p.mu.Unlock()
	<-p.slots
	_ = s.conn.Close()

	if endpoint.IsConnectivity(cause) {
		clog.Warn("pool: discarding session to %s: %v", s.ep, cause)
		m.report(s.ep, endpoint.Failure)
	} else {
		clog.Debug("pool: discarding session to %s: %v", s.ep, cause)
	}
}

// Evict destroys every idle session for ep. Sessions currently in use are
// destroyed when they are released.
func (m *Manager) Evict(ep endpoint.Endpoint) {
	m.mu.Lock()
	p, ok := m.pools[ep]
	m.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	p.gen++
	victims := p.idle
	p.idle = nil
	for _, s := range victims {
		delete(p.open, s)
	}
	m.publish(p)
	p.mu.Unlock()

	for _, s := range victims {
		_ = s.conn.Close()
	}
	if len(victims) > 0 {
		clog.Debug("pool: evicted %d idle sessions to %s", len(victims), ep)
	}
}

// Sweep destroys sessions idle longer than IdleTimeout and returns how
// many were closed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	pools := make([]*endpointPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	now := m.clock.Now()
	var victims []*Session
	for _, p := range pools {
		p.mu.Lock()
		kept := p.idle[:0]
		for _, s := range p.idle {
			if now.Sub(s.lastUsedAt) > m.cfg.IdleTimeout {
				delete(p.open, s)
				victims = append(victims, s)
				continue
			}
			kept = append(kept, s)
		}
		for i := len(kept); i < len(p.idle); i++ {
			p.idle[i] = nil
		}
		p.idle = kept
		m.publish(p)
		p.mu.Unlock()
	}

	for _, s := range victims {
		_ = s.conn.Close()
	}
	if len(victims) > 0 {
		clog.Debug("pool: swept %d idle sessions", len(victims))
	}
	return len(victims)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Close stops the sweeper and closes every session. Sessions in use are
// closed underneath their callers; releasing them afterwards is safe.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	pools := m.pools
	m.mu.Unlock()

	m.wg.Wait()

	var conns []Conn
	for _, p := range pools {
		p.mu.Lock()
		p.closed = true
		for s := range p.open {
			conns = append(conns, s.conn)
			if !s.inUse {
				delete(p.open, s)
			}
		}
		p.idle = nil
		m.publish(p)
		p.mu.Unlock()
	}

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	clog.Debug("pool: closed %d sessions", len(conns))
	return errors.Join(errs...)
}

func (m *Manager) report(ep endpoint.Endpoint, o endpoint.Outcome) {
	if m.reporter != nil {
		m.reporter.ReportOutcome(ep, o)
	}
}

// publish exports gauges for p. Caller holds p.mu.
func (m *Manager) publish(p *endpointPool) {
	idle := len(p.idle)
	metrics.SetPoolSessions(p.ep.String(), len(p.open)-idle, idle)
}

// EndpointStats describes one endpoint's sessions.
type EndpointStats struct {
	Total int `json:"total"`
	InUse int `json:"in_use"`
	Idle  int `json:"idle"`
}

// Stats summarizes every endpoint pool.
type Stats struct {
	Endpoints   int                                 `json:"endpoints"`
	Total       int                                 `json:"total"`
	InUse       int                                 `json:"in_use"`
	Idle        int                                 `json:"idle"`
	PerEndpoint map[endpoint.Endpoint]EndpointStats `json:"-"`
}

// Stats returns a snapshot of session counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	pools := make([]*endpointPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	st := Stats{PerEndpoint: make(map[endpoint.Endpoint]EndpointStats, len(pools))}
	for _, p := range pools {
		p.mu.Lock()
		es := EndpointStats{Total: len(p.open), Idle: len(p.idle)}
		es.InUse = es.Total - es.Idle
		p.mu.Unlock()

		if es.Total == 0 {
			continue
		}
		st.Endpoints++
		st.Total += es.Total
		st.InUse += es.InUse
		st.Idle += es.Idle
		st.PerEndpoint[p.ep] = es
	}
	return st
}
