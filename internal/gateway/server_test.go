package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gatekeeper"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/testutil"
)

type handlerFunc func(ctx context.Context, serviceType, raw string) (executor.Result, error)

func (f handlerFunc) ValidateAndExecute(ctx context.Context, serviceType, raw string) (executor.Result, error) {
	return f(ctx, serviceType, raw)
}

type fixture struct {
	server    *Server
	hostKey   ssh.Signer
	clientKey *sshkeys.KeyPair
}

func startServer(t *testing.T, h Handler, opts ...ServerOption) *fixture {
	t.Helper()
	old := clog.ReplaceGlobal(clog.TestLogger(&bytes.Buffer{}))
	t.Cleanup(func() { clog.ReplaceGlobal(old) })

	host := testutil.KeyPair(t, "host")
	client := testutil.KeyPair(t, "orchestrator")
	hostSigner := testutil.Signer(t, host)

	opts = append([]ServerOption{WithListenAddr("127.0.0.1:0")}, opts...)
	srv := NewServer("nextcloud", h, hostSigner, testutil.AuthorizedKeys(t, client), opts...)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	return &fixture{server: srv, hostKey: hostSigner, clientKey: client}
}

func (f *fixture) dial(t *testing.T, kp *sshkeys.KeyPair) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", f.server.Addr().String(), &ssh.ClientConfig{
		User:            "proxyuser",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(testutil.Signer(t, kp))},
		HostKeyCallback: ssh.FixedHostKey(f.hostKey.PublicKey()),
		Timeout:         5 * time.Second,
	})
}

func (f *fixture) client(t *testing.T) *ssh.Client {
	t.Helper()
	c, err := f.dial(t, f.clientKey)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func run(t *testing.T, c *ssh.Client, cmd string) (stdout, stderr string, status int) {
	t.Helper()
	sess, err := c.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	var out, errOut bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &errOut

	err = sess.Run(cmd)
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		status = 0
	case errors.As(err, &exitErr):
		status = exitErr.ExitStatus()
	default:
		t.Fatalf("Run(%q): %v", cmd, err)
	}
	return out.String(), errOut.String(), status
}

func TestServer_ExecSuccess(t *testing.T) {
	var gotService, gotRaw string
	f := startServer(t, handlerFunc(func(_ context.Context, st, raw string) (executor.Result, error) {
		gotService, gotRaw = st, raw
		return executor.Result{ExitCode: 0, Stdout: "installed: true\n", Stderr: "note\n"}, nil
	}))

	stdout, stderr, status := run(t, f.client(t), "php occ status")
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
	if stdout != "installed: true\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if stderr != "note\n" {
		t.Errorf("stderr = %q", stderr)
	}
	if gotService != "nextcloud" || gotRaw != "php occ status" {
		t.Errorf("handler got (%q, %q)", gotService, gotRaw)
	}
}

func TestServer_Rejection(t *testing.T) {
	f := startServer(t, handlerFunc(func(_ context.Context, _, raw string) (executor.Result, error) {
		return executor.Result{}, fmt.Errorf("%w: %q", gatekeeper.ErrDangerousArgument, raw)
	}))

	stdout, stderr, status := run(t, f.client(t), "php occ files:scan --path=/x; rm -rf /")
	if status != gatekeeper.ExitRejected {
		t.Errorf("status = %d, want %d", status, gatekeeper.ExitRejected)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}
	if stderr != "swarmproxy: rejected: dangerous argument\n" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestServer_CommandFailure(t *testing.T) {
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		r := executor.Result{ExitCode: 3, Stdout: "partial\n", Stderr: "boom\n"}
		return r, &gatekeeper.ExecutionError{Result: r, Started: true}
	}))

	stdout, stderr, status := run(t, f.client(t), "php occ files:scan --all")
	if status != 3 {
		t.Errorf("status = %d, want 3", status)
	}
	if stdout != "partial\n" || stderr != "boom\n" {
		t.Errorf("stdout = %q, stderr = %q", stdout, stderr)
	}
}

func TestServer_StartFailure(t *testing.T) {
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		r := executor.Result{ExitCode: -1}
		return r, &gatekeeper.ExecutionError{Result: r, Reason: "executable not found: docker"}
	}))

	_, stderr, status := run(t, f.client(t), "php occ status")
	if status != gatekeeper.ExitInternal {
		t.Errorf("status = %d, want %d", status, gatekeeper.ExitInternal)
	}
	if !strings.Contains(stderr, "swarmproxy: executable not found: docker") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestServer_RefusesInteractiveRequests(t *testing.T) {
	var calls int
	var mu sync.Mutex
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return executor.Result{}, nil
	}))
	c := f.client(t)

	t.Run("shell", func(t *testing.T) {
		sess, err := c.NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()
		if err := sess.Shell(); err == nil {
			t.Error("Shell() succeeded, want refusal")
		}
	})

	t.Run("pty", func(t *testing.T) {
		sess, err := c.NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()
		if err := sess.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err == nil {
			t.Error("RequestPty() succeeded, want refusal")
		}
	})

	t.Run("env", func(t *testing.T) {
		sess, err := c.NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()
		if err := sess.Setenv("LD_PRELOAD", "/tmp/x.so"); err == nil {
			t.Error("Setenv() succeeded, want refusal")
		}
	})

	t.Run("subsystem", func(t *testing.T) {
		sess, err := c.NewSession()
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()
		if err := sess.RequestSubsystem("sftp"); err == nil {
			t.Error("RequestSubsystem() succeeded, want refusal")
		}
	})

	t.Run("port forwarding", func(t *testing.T) {
		if _, err := c.Dial("tcp", "127.0.0.1:22"); err == nil {
			t.Error("direct-tcpip channel opened, want refusal")
		}
		if _, err := c.Listen("tcp", "127.0.0.1:0"); err == nil {
			t.Error("tcpip-forward accepted, want refusal")
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("handler called %d times, want 0", calls)
	}
}

func TestServer_RejectsUnknownKey(t *testing.T) {
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		t.Error("handler must not run for an unauthenticated client")
		return executor.Result{}, nil
	}))

	stranger := testutil.KeyPair(t, "stranger")
	if c, err := f.dial(t, stranger); err == nil {
		_ = c.Close()
		t.Fatal("dial with unknown key succeeded")
	}
}

func TestServer_RejectsPassword(t *testing.T) {
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		return executor.Result{}, nil
	}))

	_, err := ssh.Dial("tcp", f.server.Addr().String(), &ssh.ClientConfig{
		User:            "proxyuser",
		Auth:            []ssh.AuthMethod{ssh.Password("hunter2")},
		HostKeyCallback: ssh.FixedHostKey(f.hostKey.PublicKey()),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatal("password authentication succeeded")
	}
}

// Closing the session cancels the running command.
func TestServer_ClientCloseCancelsCommand(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	f := startServer(t, handlerFunc(func(ctx context.Context, _, _ string) (executor.Result, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return executor.Result{ExitCode: -1}, ctx.Err()
	}))

	c := f.client(t)
	sess, err := c.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start("php occ files:scan --all"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	_ = sess.Close()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler context was not canceled after client closed the session")
	}
}

func TestServer_CommandTimeout(t *testing.T) {
	f := startServer(t, handlerFunc(func(ctx context.Context, _, _ string) (executor.Result, error) {
		<-ctx.Done()
		r := executor.Result{ExitCode: -1}
		return r, &gatekeeper.ExecutionError{Result: r, Started: true, Reason: "command timed out"}
	}), WithCommandTimeout(50*time.Millisecond))

	_, stderr, status := run(t, f.client(t), "php occ files:scan --all")
	if status != gatekeeper.ExitInternal {
		t.Errorf("status = %d, want %d", status, gatekeeper.ExitInternal)
	}
	if !strings.Contains(stderr, "command timed out") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestServer_ConcurrentSessions(t *testing.T) {
	f := startServer(t, handlerFunc(func(_ context.Context, _, raw string) (executor.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return executor.Result{Stdout: raw}, nil
	}))
	c := f.client(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := c.NewSession()
			if err != nil {
				errs <- err
				return
			}
			defer sess.Close()
			want := fmt.Sprintf("php occ status %d", i)
			out, err := sess.Output(want)
			if err != nil {
				errs <- err
				return
			}
			if string(out) != want {
				errs <- fmt.Errorf("output %q, want %q", out, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	f := startServer(t, handlerFunc(func(context.Context, string, string) (executor.Result, error) {
		return executor.Result{}, nil
	}))
	_ = f.client(t)

	if err := f.server.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := f.server.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := f.server.Start(); err == nil {
		t.Error("Start() after Stop() should fail")
	}
}

func TestServer_AddrBeforeStart(t *testing.T) {
	kp := testutil.KeyPair(t, "h")
	s := NewServer("nextcloud", nil, testutil.Signer(t, kp), nil)
	if s.Addr() != nil {
		t.Error("Addr() before Start should be nil")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}
