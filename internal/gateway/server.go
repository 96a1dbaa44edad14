// Package gateway serves the gatekeeper over SSH. Clients authenticate with
// a public key from an authorized_keys file and may only open session
// channels carrying a single exec request. Shells, ptys, environment
// variables, subsystems and every kind of forwarding are refused.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gatekeeper"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/version"
)

// Defaults for a gateway server.
const (
	DefaultListenAddr       = ":2222"
	DefaultCommandTimeout   = 30 * time.Minute
	DefaultHandshakeTimeout = 10 * time.Second
)

// Handler validates and executes one command for a service type.
// *gatekeeper.Gatekeeper implements it.
type Handler interface {
	ValidateAndExecute(ctx context.Context, serviceType, raw string) (executor.Result, error)
}

// Server accepts SSH connections and hands exec requests to a Handler.
type Server struct {
	listenAddr       string
	serviceType      string
	handler          Handler
	config           *ssh.ServerConfig
	commandTimeout   time.Duration
	handshakeTimeout time.Duration

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	conns    map[*ssh.ServerConn]struct{}
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex // protects listener, conns and shutdown state
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListenAddr sets the TCP listen address. Use "127.0.0.1:0" in tests.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.listenAddr = addr
		}
	}
}

// WithCommandTimeout bounds each exec request. Zero disables the bound.
func WithCommandTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.commandTimeout = d }
}

// WithHandshakeTimeout bounds the SSH handshake of each connection.
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// NewServer creates a Server for serviceType. Only clients presenting a
// key in authorized may connect.
func NewServer(serviceType string, handler Handler, hostKey ssh.Signer, authorized *sshkeys.AuthorizedKeys, opts ...ServerOption) *Server {
	s := &Server{
		listenAddr:       DefaultListenAddr,
		serviceType:      serviceType,
		handler:          handler,
		commandTimeout:   DefaultCommandTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		conns:            make(map[*ssh.ServerConn]struct{}),
		shutdown:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &ssh.ServerConfig{
		ServerVersion: version.SSHIdent(),
		MaxAuthTries:  3,
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if _, ok := authorized.Contains(key); !ok {
				clog.Warn("gateway: rejected key %s for %s from %s", ssh.FingerprintSHA256(key), meta.User(), meta.RemoteAddr())
				return nil, fmt.Errorf("unknown public key for %s", meta.User())
			}
			return &ssh.Permissions{
				Extensions: map[string]string{"pubkey-fp": ssh.FingerprintSHA256(key)},
			}, nil
		},
	}
	s.config.AddHostKey(hostKey)
	return s
}

// Start begins listening. Connections are served in background goroutines
// until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("gateway already started")
	}

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listenAddr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	clog.Info("gateway: serving %s on %s", s.serviceType, listener.Addr())
	return nil
}

// Serve runs the server until ctx is done, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop closes the listener, cancels running commands, closes every
// connection and waits for handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return nil
	default:
	}

	close(s.shutdown)
	err := s.listener.Close()
	s.cancel()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				if !isTemporary(err) {
					clog.Error("gateway: accept: %v", err)
					return
				}
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func isTemporary(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	_ = nc.SetDeadline(time.Now().Add(s.handshakeTimeout))
	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		clog.Debug("gateway: handshake from %s failed: %v", nc.RemoteAddr(), err)
		_ = nc.Close()
		return
	}
	_ = nc.SetDeadline(time.Time{})

	if !s.track(sconn) {
		_ = sconn.Close()
		return
	}
	defer s.untrack(sconn)

	clog.Debug("gateway: %s connected from %s (%s)", sconn.User(), sconn.RemoteAddr(), sconn.Permissions.Extensions["pubkey-fp"])

	// Global requests (tcpip-forward, keepalives) are answered with false.
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			clog.Warn("gateway: refused %s channel from %s", newCh.ChannelType(), sconn.RemoteAddr())
			_ = newCh.Reject(ssh.Prohibited, "only session channels are allowed")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			clog.Debug("gateway: accept channel: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleSession(ch, chReqs)
	}
}

func (s *Server) track(c *ssh.ServerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *ssh.ServerConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

type execPayload struct {
	Command string
}

type exitStatus struct {
	Status uint32
}

// handleSession serves one session channel. The first valid exec request
// runs; everything else is refused. If the client closes the channel
// before the command finishes, the command's context is canceled.
func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer s.wg.Done()
	defer func() { _ = ch.Close() }()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	done := make(chan uint32, 1)
	started := false

	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return
			}
			if req.Type != "exec" || started {
				clog.Debug("gateway: refused %q request", req.Type)
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}

			var payload execPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}
			started = true
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

			s.wg.Add(1)
			go func(raw string) {
				defer s.wg.Done()
				done <- s.execute(ctx, ch, raw)
			}(payload.Command)

		case status := <-done:
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: status}))
			go ssh.DiscardRequests(reqs)
			return
		}
	}
}

// execute runs raw through the handler, streams its output to the channel
// and returns the exit status to report.
func (s *Server) execute(ctx context.Context, ch ssh.Channel, raw string) uint32 {
	if s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	result, err := s.handler.ValidateAndExecute(ctx, s.serviceType, raw)
	if errors.Is(err, gatekeeper.ErrValidation) {
		_, _ = fmt.Fprintf(ch.Stderr(), "swarmproxy: rejected: %s\n", gatekeeper.RejectReason(err))
		return gatekeeper.ExitRejected
	}

	_, _ = io.WriteString(ch, result.Stdout)
	_, _ = io.WriteString(ch.Stderr(), result.Stderr)

	var ee *gatekeeper.ExecutionError
	if errors.As(err, &ee) && ee.Reason != "" {
		_, _ = fmt.Fprintf(ch.Stderr(), "swarmproxy: %s\n", ee.Reason)
	} else if err != nil && !errors.As(err, &ee) {
		_, _ = fmt.Fprintf(ch.Stderr(), "swarmproxy: %v\n", err)
	}

	return uint32(gatekeeper.ExitCode(result, err))
}
