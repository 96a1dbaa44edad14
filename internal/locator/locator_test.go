package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/endpoint"
)

func TestMain(m *testing.M) {
	clog.ReplaceGlobal(clog.TestLogger(io.Discard))
	m.Run()
}

type fakeRegistry struct {
	mu    sync.Mutex
	cands map[string][]Candidate
	err   error
	calls atomic.Int32

	// When hold is set, Candidates signals entered and blocks until hold
	// is closed or ctx ends.
	hold    chan struct{}
	entered chan struct{}
}

func (r *fakeRegistry) Candidates(ctx context.Context, service string) ([]Candidate, error) {
	r.calls.Add(1)
	if r.hold != nil {
		r.entered <- struct{}{}
		select {
		case <-r.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.cands[service], nil
}

type fakeProber struct {
	mu    sync.Mutex
	up    map[string]bool
	tried []string
}

func (p *fakeProber) Probe(_ context.Context, addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tried = append(p.tried, addr)
	if p.up[addr] {
		return nil
	}
	return fmt.Errorf("dial tcp %s: connection refused", addr)
}

type fakeResolver map[string][]string

func (r fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := r[host]; ok {
		return addrs, nil
	}
	return nil, fmt.Errorf("lookup %s: no such host", host)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	reg   *fakeRegistry
	probe *fakeProber
	clock *fakeClock
	loc   *Locator
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg: &fakeRegistry{cands: map[string][]Candidate{
			"nextcloud": {{Host: "10.0.0.5", Port: 2222}},
		}},
		probe: &fakeProber{up: map[string]bool{"10.0.0.5:2222": true}},
		clock: &fakeClock{now: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{
		WithProber(f.probe),
		WithClock(f.clock),
		WithResolver(fakeResolver{}),
	}, opts...)
	f.loc = New(f.reg, cfg, opts...)
	return f
}

var nc = endpoint.Endpoint{Service: "nextcloud", Host: "10.0.0.5", Port: 2222}

func TestResolve_CachesWithinTTL(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})

	for i := 0; i < 5; i++ {
		ep, err := f.loc.Resolve(context.Background(), "nextcloud")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if ep != nc {
			t.Errorf("Resolve() = %v, want %v", ep, nc)
		}
		f.clock.Advance(10 * time.Second)
	}
	if n := f.reg.calls.Load(); n != 1 {
		t.Errorf("registry calls = %d, want 1", n)
	}
}

func TestResolve_ExpiredEntryRediscovers(t *testing.T) {
	f := newFixture(t, Config{TTL: time.Minute})

	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}
	if n := f.reg.calls.Load(); n != 2 {
		t.Errorf("registry calls = %d, want 2", n)
	}
}

func TestResolve_ProbesInOrder(t *testing.T) {
	f := newFixture(t, Config{},
		WithResolver(fakeResolver{"nextcloud-proxy": {"10.0.1.7", "10.0.1.8"}}))
	f.reg.cands["nextcloud"] = []Candidate{
		{Host: "10.0.0.9", Port: 2222},
		{Host: "unresolvable-proxy", Port: 2222},
		{Host: "nextcloud-proxy", Port: 2222},
	}
	f.probe.up = map[string]bool{"10.0.1.8:2222": true}

	ep, err := f.loc.Resolve(context.Background(), "nextcloud")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := endpoint.Endpoint{Service: "nextcloud", Host: "10.0.1.8", Port: 2222}
	if ep != want {
		t.Errorf("Resolve() = %v, want %v", ep, want)
	}

	wantTried := []string{"10.0.0.9:2222", "10.0.1.7:2222", "10.0.1.8:2222"}
	if fmt.Sprint(f.probe.tried) != fmt.Sprint(wantTried) {
		t.Errorf("probed %v, want %v", f.probe.tried, wantTried)
	}
}

func TestResolve_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
	}{
		{"none registered", func(f *fixture) { delete(f.reg.cands, "nextcloud") }},
		{"none reachable", func(f *fixture) { f.probe.up = nil }},
		{"registry error", func(f *fixture) { f.reg.err = errors.New("docker: daemon not running") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			tt.setup(f)

			_, err := f.loc.Resolve(context.Background(), "nextcloud")
			if !errors.Is(err, ErrServiceUnavailable) {
				t.Fatalf("Resolve() error = %v, want ErrServiceUnavailable", err)
			}
			if len(f.loc.Entries()) != 0 {
				t.Error("failed discovery was cached")
			}
		})
	}
}

func TestResolve_Canceled(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.reg.err = ctx.Err()

	if _, err := f.loc.Resolve(ctx, "nextcloud"); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}

func TestReportOutcome_EvictsAfterMaxErrors(t *testing.T) {
	var evicted []endpoint.Endpoint
	f := newFixture(t, Config{MaxErrors: 3},
		WithEvictHook(func(ep endpoint.Endpoint) { evicted = append(evicted, ep) }))

	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		f.loc.ReportOutcome(nc, endpoint.Failure)
		entries := f.loc.Entries()
		if len(entries) != 1 || entries[0].ConsecutiveErrors != i {
			t.Fatalf("after %d failures entries = %+v", i, entries)
		}
	}
	f.loc.ReportOutcome(nc, endpoint.Failure)

	if len(f.loc.Entries()) != 0 {
		t.Error("entry not evicted after MaxErrors failures")
	}
	if len(evicted) != 1 || evicted[0] != nc {
		t.Errorf("evict hook got %v", evicted)
	}

	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}
	if n := f.reg.calls.Load(); n != 2 {
		t.Errorf("registry calls = %d, want fresh discovery after eviction", n)
	}
}

func TestReportOutcome_SuccessResets(t *testing.T) {
	f := newFixture(t, Config{MaxErrors: 3})
	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}

	f.loc.ReportOutcome(nc, endpoint.Failure)
	f.loc.ReportOutcome(nc, endpoint.Failure)
	f.loc.ReportOutcome(nc, endpoint.Success)
	f.loc.ReportOutcome(nc, endpoint.Failure)
	f.loc.ReportOutcome(nc, endpoint.Failure)

	entries := f.loc.Entries()
	if len(entries) != 1 || entries[0].ConsecutiveErrors != 2 {
		t.Errorf("entries = %+v, want one entry with 2 errors", entries)
	}
}

func TestReportOutcome_IgnoresOtherEndpoints(t *testing.T) {
	f := newFixture(t, Config{MaxErrors: 1})
	if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
		t.Fatal(err)
	}

	stale := endpoint.Endpoint{Service: "nextcloud", Host: "10.0.0.4", Port: 2222}
	f.loc.ReportOutcome(stale, endpoint.Failure)
	f.loc.ReportOutcome(endpoint.Endpoint{Service: "photoprism", Host: "10.0.0.5", Port: 2222}, endpoint.Failure)

	if len(f.loc.Entries()) != 1 {
		t.Error("report for a non-cached endpoint affected the cache")
	}
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, Config{})
	f.reg.cands["photoprism"] = []Candidate{{Host: "10.0.0.6", Port: 2222}}
	f.probe.up["10.0.0.6:2222"] = true

	for _, s := range []string{"photoprism", "nextcloud"} {
		if _, err := f.loc.Resolve(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}

	entries := f.loc.Entries()
	if len(entries) != 2 || entries[0].Endpoint.Service != "nextcloud" {
		t.Fatalf("Entries() = %+v, want 2 sorted by service", entries)
	}

	f.loc.Invalidate("nextcloud")
	if entries := f.loc.Entries(); len(entries) != 1 || entries[0].Endpoint.Service != "photoprism" {
		t.Errorf("after Invalidate(nextcloud) entries = %+v", entries)
	}

	f.loc.Invalidate("")
	if len(f.loc.Entries()) != 0 {
		t.Error("Invalidate(\"\") left entries")
	}
}

func TestResolve_ConcurrentMissesShareDiscovery(t *testing.T) {
	f := newFixture(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.loc.Resolve(context.Background(), "nextcloud"); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// Discoveries may overlap only before the first one is cached.
	if n := f.reg.calls.Load(); n > 20 || n < 1 {
		t.Errorf("registry calls = %d", n)
	}
	if len(f.loc.Entries()) != 1 {
		t.Error("expected one cached entry")
	}
}

func TestResolve_CanceledCallerDoesNotAbortSharedDiscovery(t *testing.T) {
	f := newFixture(t, Config{})
	f.reg.hold = make(chan struct{})
	f.reg.entered = make(chan struct{}, 1)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.loc.Resolve(ctxA, "nextcloud")
		errA <- err
	}()
	<-f.reg.entered

	type result struct {
		ep  endpoint.Endpoint
		err error
	}
	resB := make(chan result, 1)
	go func() {
		ep, err := f.loc.Resolve(context.Background(), "nextcloud")
		resB <- result{ep, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller A error = %v, want context.Canceled", err)
	}

	close(f.reg.hold)
	select {
	case r := <-resB:
		if r.err != nil {
			t.Fatalf("caller B error = %v", r.err)
		}
		if r.ep != nc {
			t.Errorf("caller B endpoint = %v, want %v", r.ep, nc)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("caller B did not return")
	}
	if len(f.loc.Entries()) != 1 {
		t.Error("shared discovery result not cached")
	}
}

func TestResolve_DiscoveryTimeout(t *testing.T) {
	f := newFixture(t, Config{DiscoveryTimeout: 20 * time.Millisecond})
	f.reg.hold = make(chan struct{})
	f.reg.entered = make(chan struct{}, 1)

	_, err := f.loc.Resolve(context.Background(), "nextcloud")
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrServiceUnavailable", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	if got != DefaultConfig() {
		t.Errorf("withDefaults() = %+v, want %+v", got, DefaultConfig())
	}
	if d := DefaultConfig(); d.TTL != 60*time.Second || d.MaxErrors != 3 || d.ProbeTimeout != 5*time.Second || d.DiscoveryTimeout != 30*time.Second {
		t.Errorf("DefaultConfig() = %+v", d)
	}
}
