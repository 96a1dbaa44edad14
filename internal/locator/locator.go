// Package locator maps logical service names to reachable gateway
// endpoints. Discoveries are cached for a TTL; an endpoint that keeps
// failing is evicted so the next Resolve discovers afresh.
package locator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/metrics"
)

// ErrServiceUnavailable is returned when no registered instance of a
// service is reachable.
var ErrServiceUnavailable = errors.New("service unavailable")

// Config tunes caching and health tracking.
type Config struct {
	// TTL is how long a discovered endpoint is trusted.
	TTL time.Duration
	// MaxErrors consecutive failures evict the cached endpoint.
	MaxErrors int
	// ProbeTimeout bounds each TCP reachability probe.
	ProbeTimeout time.Duration
	// DiscoveryTimeout bounds one shared discovery. Discovery outlives
	// the caller that started it, so it is not bound by that caller's ctx.
	DiscoveryTimeout time.Duration
}

// DefaultConfig returns the stock locator settings.
func DefaultConfig() Config {
	return Config{
		TTL:              60 * time.Second,
		MaxErrors:        3,
		ProbeTimeout:     5 * time.Second,
		DiscoveryTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = d.MaxErrors
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	return c
}

// Entry is a cached discovery result.
type Entry struct {
	Endpoint          endpoint.Endpoint `json:"endpoint"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	CachedUntil       time.Time         `json:"cached_until"`
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// HostResolver expands a hostname into addresses. *net.Resolver
// implements it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Prober checks that an address accepts connections.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// TCPProber probes by opening and closing a TCP connection.
type TCPProber struct {
	Timeout time.Duration
}

// Probe dials addr within the timeout.
func (p TCPProber) Probe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Option configures a Locator.
type Option func(*Locator)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(l *Locator) { l.clock = c }
}

// WithResolver overrides DNS resolution.
func WithResolver(r HostResolver) Option {
	return func(l *Locator) { l.resolver = r }
}

// WithProber overrides the reachability probe.
func WithProber(p Prober) Option {
	return func(l *Locator) { l.prober = p }
}

// WithEvictHook registers fn to run, outside the cache lock, after an
// endpoint is evicted for repeated failures.
func WithEvictHook(fn func(endpoint.Endpoint)) Option {
	return func(l *Locator) { l.onEvict = append(l.onEvict, fn) }
}

// Locator resolves services through a Registry. It is safe for concurrent
// use; discovery runs outside the cache lock and concurrent misses for the
// same service share one discovery.
type Locator struct {
	registry Registry
	cfg      Config
	clock    Clock
	resolver HostResolver
	prober   Prober
	onEvict  []func(endpoint.Endpoint)

	mu      sync.Mutex
	entries map[string]*Entry

	group singleflight.Group
}

// New creates a Locator over registry.
func New(registry Registry, cfg Config, opts ...Option) *Locator {
	cfg = cfg.withDefaults()
	l := &Locator{
		registry: registry,
		cfg:      cfg,
		clock:    realClock{},
		resolver: net.DefaultResolver,
		prober:   TCPProber{Timeout: cfg.ProbeTimeout},
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ endpoint.Reporter = (*Locator)(nil)

// Resolve returns the cached endpoint for service, discovering one when
// the cache is empty or expired. Canceling ctx stops this caller's wait
// but not a discovery other callers share.
func (l *Locator) Resolve(ctx context.Context, service string) (endpoint.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return endpoint.Endpoint{}, err
	}

	l.mu.Lock()
	if e, ok := l.entries[service]; ok {
		if l.clock.Now().Before(e.CachedUntil) {
			ep := e.Endpoint
			l.mu.Unlock()
			return ep, nil
		}
		clog.Debug("locator: cache expired for %s", service)
		delete(l.entries, service)
	}
	l.mu.Unlock()

	ch := l.group.DoChan(service, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.DiscoveryTimeout)
		defer cancel()
		return l.discover(dctx, service)
	})
	select {
	case <-ctx.Done():
		return endpoint.Endpoint{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return endpoint.Endpoint{}, r.Err
		}
		return r.Val.(endpoint.Endpoint), nil
	}
}

func (l *Locator) discover(ctx context.Context, service string) (endpoint.Endpoint, error) {
	cands, err := l.registry.Candidates(ctx, service)
	if err != nil {
		metrics.RecordDiscovery(service, "error")
		clog.Warn("locator: registry lookup for %s failed: %v", service, err)
		return endpoint.Endpoint{}, fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, service, err)
	}
	if len(cands) == 0 {
		metrics.RecordDiscovery(service, "unreachable")
		clog.Warn("locator: no %s gateways registered", service)
		return endpoint.Endpoint{}, fmt.Errorf("%w: %s: no instances registered", ErrServiceUnavailable, service)
	}
	if len(cands) > 1 {
		clog.Debug("locator: %d %s gateways registered, probing in order", len(cands), service)
	}

	var lastErr error
candidates:
	for _, c := range cands {
		for _, addr := range l.expand(ctx, c.Host) {
			ep := endpoint.Endpoint{Service: service, Host: addr, Port: c.Port}

			pctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
			err := l.prober.Probe(pctx, ep.Addr())
			cancel()
			if err != nil {
				clog.Debug("locator: probe %s failed: %v", ep, err)
				lastErr = err
				if ctx.Err() != nil {
					lastErr = fmt.Errorf("discovery timed out: %w", ctx.Err())
					break candidates
				}
				continue
			}

			l.mu.Lock()
			l.entries[service] = &Entry{Endpoint: ep, CachedUntil: l.clock.Now().Add(l.cfg.TTL)}
			l.mu.Unlock()

			metrics.RecordDiscovery(service, "found")
			clog.Info("locator: discovered %s", ep)
			return ep, nil
		}
	}

	metrics.RecordDiscovery(service, "unreachable")
	if lastErr == nil {
		lastErr = errors.New("no candidate addresses resolved")
	}
	clog.Warn("locator: no reachable %s gateway: %v", service, lastErr)
	return endpoint.Endpoint{}, fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, service, lastErr)
}

// expand returns host itself for IP literals and its DNS addresses
// otherwise. Unresolvable hosts expand to nothing.
func (l *Locator) expand(ctx context.Context, host string) []string {
	if net.ParseIP(host) != nil {
		return []string{host}
	}
	addrs, err := l.resolver.LookupHost(ctx, host)
	if err != nil {
		clog.Debug("locator: resolve %s: %v", host, err)
		return nil
	}
	return addrs
}

// ReportOutcome records a health signal for ep. Reports for an endpoint
// that is no longer the cached one for its service are ignored.
func (l *Locator) ReportOutcome(ep endpoint.Endpoint, outcome endpoint.Outcome) {
	metrics.RecordEndpointOutcome(ep.String(), outcome.String())

	l.mu.Lock()
	e, ok := l.entries[ep.Service]
	if !ok || e.Endpoint != ep {
		l.mu.Unlock()
		return
	}

	if outcome == endpoint.Success {
		e.ConsecutiveErrors = 0
		l.mu.Unlock()
		return
	}

	e.ConsecutiveErrors++
	if e.ConsecutiveErrors < l.cfg.MaxErrors {
		clog.Warn("locator: %s failed (%d/%d)", ep, e.ConsecutiveErrors, l.cfg.MaxErrors)
		l.mu.Unlock()
		return
	}
	delete(l.entries, ep.Service)
	hooks := l.onEvict
	l.mu.Unlock()

	metrics.RecordEviction(ep.Service)
	clog.Warn("locator: evicted %s after %d consecutive failures", ep, l.cfg.MaxErrors)
	for _, fn := range hooks {
		fn(ep)
	}
}

// Invalidate drops the cached endpoint for service, or every entry when
// service is empty.
func (l *Locator) Invalidate(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if service == "" {
		l.entries = make(map[string]*Entry)
		clog.Info("locator: invalidated all entries")
		return
	}
	if _, ok := l.entries[service]; ok {
		delete(l.entries, service)
		clog.Info("locator: invalidated %s", service)
	}
}

// Entries returns a snapshot of the cache sorted by service.
func (l *Locator) Entries() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.Service < out[j].Endpoint.Service })
	return out
}
