package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
)

var ep1 = endpoint.Endpoint{Service: "nextcloud", Host: "10.0.0.5", Port: 2222}
var ep2 = endpoint.Endpoint{Service: "nextcloud", Host: "10.0.0.6", Port: 2222}

type fakeConn struct {
	id     int
	closed atomic.Bool
	dead   atomic.Bool
}

func (c *fakeConn) Exec(context.Context, string) (executor.Result, error) {
	return executor.Result{Stdout: fmt.Sprintf("conn-%d", c.id)}, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) Alive() bool {
	return !c.dead.Load() && !c.closed.Load()
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	block chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ endpoint.Endpoint) (Conn, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{id: len(d.conns) + 1}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type reports struct {
	mu  sync.Mutex
	got []endpoint.Outcome
}

func (r *reports) ReportOutcome(_ endpoint.Endpoint, o endpoint.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, o)
}

func (r *reports) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.got {
		if o == endpoint.Failure {
			n++
		}
	}
	return n
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

func newManager(t *testing.T, d Dialer, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m := New(d, cfg, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAcquire_ReusesIdleSession(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 2})

	s1, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	m.Release(s1)

	s2, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer m.Release(s2)

	if s1 != s2 {
		t.Error("second Acquire did not reuse the idle session")
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
	if s2.Endpoint() != ep1 {
		t.Errorf("Endpoint() = %v, want %v", s2.Endpoint(), ep1)
	}
}

func TestAcquire_LIFOReuse(t *testing.T) {
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 3})
	ctx := context.Background()

	a, _ := m.Acquire(ctx, ep1)
	b, _ := m.Acquire(ctx, ep1)
	m.Release(a)
	m.Release(b)

	got, err := m.Acquire(ctx, ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(got)
	if got != b {
		t.Error("Acquire did not return the most recently released session")
	}
}

func TestAcquire_EndpointsAreIsolated(t *testing.T) {
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 1, OnExhausted: FailFast})
	ctx := context.Background()

	a, err := m.Acquire(ctx, ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)

	b, err := m.Acquire(ctx, ep2)
	if err != nil {
		t.Fatalf("Acquire(ep2) error = %v, want capacity independent of ep1", err)
	}
	defer m.Release(b)
}

func TestAcquire_WaitBlocksAtCapacity(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 2, AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	a, _ := m.Acquire(ctx, ep1)
	b, _ := m.Acquire(ctx, ep1)

	got := make(chan *Session, 1)
	go func() {
		s, err := m.Acquire(ctx, ep1)
		if err != nil {
			t.Errorf("third Acquire error = %v", err)
		}
		got <- s
	}()

	select {
	case <-got:
		t.Fatal("third Acquire returned before a release")
	case <-time.After(100 * time.Millisecond):
	}

	if st := m.Stats(); st.InUse != 2 {
		t.Errorf("InUse = %d, want 2", st.InUse)
	}

	m.Release(a)
	select {
	case s := <-got:
		if s != a {
			t.Error("waiter did not receive the released session")
		}
		m.Release(s)
	case <-time.After(2 * time.Second):
		t.Fatal("third Acquire still blocked after release")
	}
	m.Release(b)

	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
}

func TestAcquire_NeverExceedsMax(t *testing.T) {
	const max = 2
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: max, AcquireTimeout: 5 * time.Second})

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Acquire(context.Background(), ep1)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := inUse.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inUse.Add(-1)
			m.Release(s)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > max {
		t.Errorf("peak in use = %d, want <= %d", p, max)
	}
	if st := m.Stats(); st.Total > max {
		t.Errorf("Total = %d, want <= %d", st.Total, max)
	}
}

func TestAcquire_FailFast(t *testing.T) {
	r := &reports{}
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 1, OnExhausted: FailFast}, WithReporter(r))

	s, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(s)

	_, err = m.Acquire(context.Background(), ep1)
	if !errors.Is(err, endpoint.ErrPoolExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Endpoint != ep1 {
		t.Errorf("error = %#v, want *ConnectionError for %v", err, ep1)
	}
	if !endpoint.IsConnectivity(err) {
		t.Error("exhaustion is not classified as connectivity")
	}
	if r.failures() != 1 {
		t.Errorf("failures reported = %d, want 1", r.failures())
	}
}

func TestAcquire_WaitTimeout(t *testing.T) {
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 1, AcquireTimeout: 50 * time.Millisecond})

	s, _ := m.Acquire(context.Background(), ep1)
	defer m.Release(s)

	start := time.Now()
	_, err := m.Acquire(context.Background(), ep1)
	if !errors.Is(err, endpoint.ErrPoolExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Acquire returned before AcquireTimeout")
	}
}

func TestAcquire_CancelWhileWaitingIsNotReported(t *testing.T) {
	r := &reports{}
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 1}, WithReporter(r))

	s, _ := m.Acquire(context.Background(), ep1)
	defer m.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := m.Acquire(ctx, ep1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
	if r.failures() != 0 {
		t.Errorf("failures reported = %d, want 0", r.failures())
	}
}

func TestAcquire_CancelDuringDialIsNotReported(t *testing.T) {
	r := &reports{}
	d := &fakeDialer{block: make(chan struct{})}
	m := newManager(t, d, Config{MaxPerEndpoint: 1}, WithReporter(r))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	if _, err := m.Acquire(ctx, ep1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
	if r.failures() != 0 {
		t.Errorf("failures reported = %d, want 0", r.failures())
	}

	// The slot taken for the dial was returned.
	close(d.block)
	s, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatalf("Acquire() after cancel error = %v", err)
	}
	m.Release(s)
}

func TestAcquire_DialFailure(t *testing.T) {
	r := &reports{}
	d := &fakeDialer{err: errors.New("connection refused")}
	m := newManager(t, d, Config{MaxPerEndpoint: 1, OnExhausted: FailFast}, WithReporter(r))

	_, err := m.Acquire(context.Background(), ep1)
	if !errors.Is(err, endpoint.ErrDialFailed) {
		t.Fatalf("Acquire() error = %v, want ErrDialFailed", err)
	}
	if r.failures() != 1 {
		t.Errorf("failures reported = %d, want 1", r.failures())
	}

	// A failed dial must not leak its slot.
	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	s, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatalf("Acquire() after failure error = %v", err)
	}
	m.Release(s)
}

func TestAcquire_DialTimeoutClassified(t *testing.T) {
	d := &fakeDialer{block: make(chan struct{})}
	m := newManager(t, d, Config{MaxPerEndpoint: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx, ep1)
	if !errors.Is(err, endpoint.ErrTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrTimeout", err)
	}
}

func TestAcquire_SkipsDeadIdleSession(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 2})

	s, _ := m.Acquire(context.Background(), ep1)
	m.Release(s)
	d.conns[0].dead.Store(true)

	s2, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(s2)

	if s2 == s {
		t.Error("Acquire reused a dead session")
	}
	if !d.conns[0].closed.Load() {
		t.Error("dead session was not closed")
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
}

func TestRelease_Twice(t *testing.T) {
	m := newManager(t, &fakeDialer{}, Config{MaxPerEndpoint: 1, OnExhausted: FailFast})

	s, _ := m.Acquire(context.Background(), ep1)
	m.Release(s)
	m.Release(s)

	if st := m.Stats(); st.Idle != 1 || st.InUse != 0 {
		t.Errorf("Stats() = %+v, want 1 idle", st)
	}

	// The double release must not free a second slot.
	a, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(a)
	if _, err := m.Acquire(context.Background(), ep1); !errors.Is(err, endpoint.ErrPoolExhausted) {
		t.Errorf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
}

func TestDiscard(t *testing.T) {
	tests := []struct {
		name     string
		cause    error
		failures int
	}{
		{"connectivity", endpoint.NewConnectivityError(endpoint.ErrTimeout, ep1, errors.New("read timeout")), 1},
		{"canceled", context.Canceled, 0},
		{"other", errors.New("protocol confusion"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &reports{}
			d := &fakeDialer{}
			m := newManager(t, d, Config{MaxPerEndpoint: 1}, WithReporter(r))

			s, _ := m.Acquire(context.Background(), ep1)
			m.Discard(s, tt.cause)

			if !d.conns[0].closed.Load() {
				t.Error("discarded connection not closed")
			}
			if r.failures() != tt.failures {
				t.Errorf("failures reported = %d, want %d", r.failures(), tt.failures)
			}
			if st := m.Stats(); st.Total != 0 {
				t.Errorf("Total = %d, want 0", st.Total)
			}

			// Release after Discard is a no-op.
			m.Release(s)
			if st := m.Stats(); st.Idle != 0 {
				t.Errorf("Idle = %d after Release of discarded session", st.Idle)
			}
		})
	}
}

func TestEvict(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 3})
	ctx := context.Background()

	idle, _ := m.Acquire(ctx, ep1)
	busy, _ := m.Acquire(ctx, ep1)
	other, _ := m.Acquire(ctx, ep2)
	m.Release(idle)
	m.Release(other)

	m.Evict(ep1)

	if !d.conns[0].closed.Load() {
		t.Error("idle session not closed by Evict")
	}
	if d.conns[1].closed.Load() {
		t.Error("in-use session closed by Evict")
	}
	if d.conns[2].closed.Load() {
		t.Error("Evict touched another endpoint")
	}

	// In-use sessions from before the eviction are destroyed on release.
	m.Release(busy)
	if !d.conns[1].closed.Load() {
		t.Error("evicted in-use session not closed on release")
	}
	if es := m.Stats().PerEndpoint[ep1]; es.Total != 0 {
		t.Errorf("ep1 stats = %+v, want empty", es)
	}

	// New sessions after eviction pool normally.
	fresh, _ := m.Acquire(ctx, ep1)
	m.Release(fresh)
	if es := m.Stats().PerEndpoint[ep1]; es.Idle != 1 {
		t.Errorf("ep1 idle = %d, want 1", es.Idle)
	}
}

func TestSweep(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)}
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 3, IdleTimeout: time.Minute}, WithClock(clk))
	ctx := context.Background()

	old, _ := m.Acquire(ctx, ep1)
	m.Release(old)
	clk.Advance(45 * time.Second)

	recent, _ := m.Acquire(ctx, ep2)
	m.Release(recent)
	clk.Advance(30 * time.Second)

	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if !d.conns[0].closed.Load() {
		t.Error("expired session not closed")
	}
	if d.conns[1].closed.Load() {
		t.Error("fresh session closed")
	}
	if st := m.Stats(); st.Idle != 1 || st.Endpoints != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestAcquire_DropsExpiredIdle(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)}
	d := &fakeDialer{}
	m := newManager(t, d, Config{MaxPerEndpoint: 1, IdleTimeout: time.Minute}, WithClock(clk))

	s, _ := m.Acquire(context.Background(), ep1)
	m.Release(s)
	clk.Advance(2 * time.Minute)

	s2, err := m.Acquire(context.Background(), ep1)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Release(s2)
	if s2 == s {
		t.Error("Acquire reused a session past IdleTimeout")
	}
}

func TestClose(t *testing.T) {
	d := &fakeDialer{}
	m := New(d, Config{MaxPerEndpoint: 2, SweepInterval: time.Hour})
	ctx := context.Background()

	idle, _ := m.Acquire(ctx, ep1)
	busy, _ := m.Acquire(ctx, ep1)
	m.Release(idle)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for i, c := range d.conns {
		if !c.closed.Load() {
			t.Errorf("conn %d not closed", i)
		}
	}

	m.Release(busy)
	if _, err := m.Acquire(ctx, ep1); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrPoolClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_WakesWaiters(t *testing.T) {
	m := New(&fakeDialer{}, Config{MaxPerEndpoint: 1})
	s, _ := m.Acquire(context.Background(), ep1)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), ep1)
		errc <- err
	}()
	time.Sleep(30 * time.Millisecond)

	_ = m.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("waiter error = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}
	m.Release(s)
}

func TestPolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Wait, "wait": Wait, "fail": FailFast, "Fail-Fast": FailFast} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("queue"); err == nil {
		t.Error("ParsePolicy(queue) succeeded")
	}
	if FailFast.String() != "fail" || Wait.String() != "wait" {
		t.Error("Policy.String mismatch")
	}
}
