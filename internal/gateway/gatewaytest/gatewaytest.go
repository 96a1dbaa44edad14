// Package gatewaytest runs an in-process gateway on loopback for client
// tests, in the manner of net/http/httptest.
package gatewaytest

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gateway"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/testutil"
)

// HandlerFunc adapts a function into a gateway.Handler.
type HandlerFunc func(ctx context.Context, serviceType, raw string) (executor.Result, error)

// ValidateAndExecute calls f.
func (f HandlerFunc) ValidateAndExecute(ctx context.Context, serviceType, raw string) (executor.Result, error) {
	return f(ctx, serviceType, raw)
}

// Gateway is a running loopback gateway plus client key material that it
// trusts.
type Gateway struct {
	Server  *gateway.Server
	HostKey ssh.Signer
	Client  *sshkeys.KeyPair

	// KeyPath is the client private key on disk.
	KeyPath string
	// KnownHostsPath lists the gateway's host key for its address.
	KnownHostsPath string
}

// Start serves h for serviceType until the test ends.
func Start(t *testing.T, serviceType string, h gateway.Handler, opts ...gateway.ServerOption) *Gateway {
	t.Helper()
	old := clog.ReplaceGlobal(clog.TestLogger(io.Discard))
	t.Cleanup(func() { clog.ReplaceGlobal(old) })

	host := testutil.KeyPair(t, "host")
	client := testutil.KeyPair(t, "orchestrator")
	hostSigner := testutil.Signer(t, host)

	opts = append([]gateway.ServerOption{gateway.WithListenAddr("127.0.0.1:0")}, opts...)
	srv := gateway.NewServer(serviceType, h, hostSigner, testutil.AuthorizedKeys(t, client), opts...)
	if err := srv.Start(); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	g := &Gateway{
		Server:  srv,
		HostKey: hostSigner,
		Client:  client,
		KeyPath: testutil.WriteKeyPair(t, client, "id_ed25519"),
	}
	g.KnownHostsPath = WriteKnownHosts(t, srv.Addr().String(), hostSigner.PublicKey())
	return g
}

// Endpoint returns the gateway's address as an endpoint of service.
func (g *Gateway) Endpoint(service string) endpoint.Endpoint {
	host, port, _ := net.SplitHostPort(g.Server.Addr().String())
	p, _ := strconv.Atoi(port)
	return endpoint.Endpoint{Service: service, Host: host, Port: p}
}

// Echo is a handler that succeeds and echoes the raw command to stdout.
func Echo() HandlerFunc {
	return func(_ context.Context, _, raw string) (executor.Result, error) {
		return executor.Result{Stdout: raw + "\n"}, nil
	}
}

// UnreachableEndpoint returns an endpoint on loopback with nothing
// listening.
func UnreachableEndpoint(t *testing.T, service string) endpoint.Endpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return endpoint.Endpoint{Service: service, Host: "127.0.0.1", Port: port}
}

// WriteKnownHosts writes a known_hosts file trusting key at addr and
// returns its path.
func WriteKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(sshkeys.KnownHostsLine(addr, key))
	buf.WriteByte('\n')
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}
