// Package sshclient dials gateway endpoints over SSH for the session pool.
package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/pool"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/version"
)

// Defaults.
const (
	DefaultUser             = "proxyuser"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultKeepaliveTimeout = 2 * time.Second
)

const keepaliveRequest = "keepalive@openssh.com"

// Config describes how to authenticate to gateways.
type Config struct {
	User       string
	KeyPath    string
	Passphrase string
	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	// ConnectTimeout bounds TCP connect plus SSH handshake.
	ConnectTimeout time.Duration
	// KeepaliveTimeout bounds the liveness probe run before reuse.
	KeepaliveTimeout time.Duration
}

// Dialer opens authenticated SSH connections. The private key and host
// key database are loaded once, in NewDialer.
type Dialer struct {
	cfg    Config
	config *ssh.ClientConfig
}

var _ pool.Dialer = (*Dialer)(nil)

// NewDialer validates cfg and loads its key material.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return nil, errors.New("ssh key path is required")
	}

	signer, err := sshkeys.LoadSigner(cfg.KeyPath, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	return &Dialer{
		cfg: cfg,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.ConnectTimeout,
			ClientVersion:   version.SSHIdent(),
		},
	}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := strings.TrimSpace(cfg.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// Dial connects and authenticates to ep. TCP failures are
// endpoint.ErrDialFailed, SSH failures endpoint.ErrHandshakeFailed, and
// either running past ConnectTimeout or the context deadline
// endpoint.ErrTimeout. Caller cancellation is returned as the context error.
func (d *Dialer) Dial(ctx context.Context, ep endpoint.Endpoint) (pool.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	var nd net.Dialer
	nc, err := nd.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, endpoint.Classify(endpoint.ErrDialFailed, ep, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })

	cc, chans, reqs, err := ssh.NewClientConn(nc, ep.Addr(), d.config)
	if !stop() || err != nil {
		_ = nc.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.Canceled) {
				return nil, ctxErr
			}
			return nil, endpoint.NewConnectivityError(endpoint.ErrTimeout, ep, ctxErr)
		}
		return nil, endpoint.Classify(endpoint.ErrHandshakeFailed, ep, err)
	}
	_ = nc.SetDeadline(time.Time{})

	return &Conn{
		ep:        ep,
		client:    ssh.NewClient(cc, chans, reqs),
		keepalive: d.cfg.KeepaliveTimeout,
	}, nil
}

// Conn is one authenticated SSH connection. Each Exec opens a new channel.
type Conn struct {
	ep        endpoint.Endpoint
	client    *ssh.Client
	keepalive time.Duration
}

// Exec runs command on the gateway. A nonzero remote exit status is
// returned in the Result with a nil error. When ctx ends first the
// connection is closed; a deadline becomes endpoint.ErrTimeout.
func (c *Conn) Exec(ctx context.Context, command string) (executor.Result, error) {
	start := time.Now()

	sess, err := c.client.NewSession()
	if err != nil {
		return executor.Result{}, endpoint.NewConnectivityError(endpoint.ErrDialFailed, c.ep,
			fmt.Errorf("open session: %w", err))
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		return executor.Result{}, endpoint.NewConnectivityError(endpoint.ErrDialFailed, c.ep,
			fmt.Errorf("start command: %w", err))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = c.client.Close()
		<-done
		if errors.Is(ctx.Err(), context.Canceled) {
			return executor.Result{}, ctx.Err()
		}
		return executor.Result{}, endpoint.NewConnectivityError(endpoint.ErrTimeout, c.ep, ctx.Err())
	}

	result := executor.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	case errors.As(err, &missingErr):
		return result, endpoint.NewConnectivityError(endpoint.ErrDialFailed, c.ep,
			errors.New("connection lost before exit status"))
	default:
		return result, endpoint.Classify(endpoint.ErrDialFailed, c.ep, err)
	}
}

// Alive sends a keepalive request and reports whether the gateway answered
// in time. A refused request still proves the connection works.
func (c *Conn) Alive() bool {
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest(keepaliveRequest, true, nil)
		errc <- err
	}()

	timer := time.NewTimer(c.keepalive)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err == nil
	case <-timer.C:
		return false
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.client.Close()
}
