package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/nextprism/swarmproxy/internal/audit"
	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/docker"
	"github.com/nextprism/swarmproxy/internal/endpoint"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gatekeeper"
	"github.com/nextprism/swarmproxy/internal/gateway"
	"github.com/nextprism/swarmproxy/internal/locator"
	"github.com/nextprism/swarmproxy/internal/pool"
	"github.com/nextprism/swarmproxy/internal/remote"
	"github.com/nextprism/swarmproxy/internal/sshclient"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// whitelistTable returns the configured whitelist, or the built-in one
// when the config has no rules.
func whitelistTable(cfg *config.Config) (*whitelist.Table, error) {
	if len(cfg.Whitelist) == 0 {
		return whitelist.Default(), nil
	}
	rules := make([]whitelist.Rule, len(cfg.Whitelist))
	for i, r := range cfg.Whitelist {
		rules[i] = whitelist.Rule{ServiceType: r.ServiceType, Prefix: r.Prefix, Verbs: r.Verbs}
	}
	table, err := whitelist.NewTable(rules...)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	return table, nil
}

// newGatekeeper builds the gatekeeper for the gateway side. Audit lines go
// to auditOut.
func newGatekeeper(cfg *config.Config, exec executor.Executor, auditOut io.Writer) (*gatekeeper.Gatekeeper, error) {
	table, err := whitelistTable(cfg)
	if err != nil {
		return nil, err
	}
	targets := gatekeeper.ResolveTargets(table.ServiceTypes(), cfg.Gateway.Containers, nil)
	return gatekeeper.New(table, targets, exec,
		gatekeeper.WithAuditLogger(audit.NewLogger(auditOut)),
		gatekeeper.WithDockerBinary(cfg.Gateway.DockerBinary),
		gatekeeper.WithTimeout(config.Duration(cfg.Gateway.CommandTimeout, gatekeeper.DefaultTimeout)),
	), nil
}

func gatewayOptions(cfg *config.Config) []gateway.ServerOption {
	return []gateway.ServerOption{
		gateway.WithListenAddr(cfg.Gateway.Listen),
		gateway.WithCommandTimeout(config.Duration(cfg.Gateway.CommandTimeout, gateway.DefaultCommandTimeout)),
		gateway.WithHandshakeTimeout(config.Duration(cfg.Gateway.HandshakeTimeout, gateway.DefaultHandshakeTimeout)),
	}
}

func poolConfig(c *config.ClientConfig) (pool.Config, error) {
	d := pool.DefaultConfig()
	policy, err := pool.ParsePolicy(c.Pool.OnExhausted)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{
		MaxPerEndpoint: c.Pool.MaxPerEndpoint,
		AcquireTimeout: config.Duration(c.Pool.AcquireTimeout, d.AcquireTimeout),
		OnExhausted:    policy,
		IdleTimeout:    config.Duration(c.Pool.IdleTimeout, d.IdleTimeout),
		SweepInterval:  config.Duration(c.Pool.SweepInterval, d.SweepInterval),
	}, nil
}

func locatorConfig(c *config.ClientConfig) locator.Config {
	d := locator.DefaultConfig()
	return locator.Config{
		TTL:              config.Duration(c.Locator.TTL, d.TTL),
		MaxErrors:        c.Locator.MaxErrors,
		ProbeTimeout:     config.Duration(c.Locator.ProbeTimeout, d.ProbeTimeout),
		DiscoveryTimeout: config.Duration(c.Locator.DiscoveryTimeout, d.DiscoveryTimeout),
	}
}

func remoteConfig(c *config.ClientConfig) remote.Config {
	d := remote.DefaultConfig()
	return remote.Config{
		MaxAttempts: c.MaxAttempts,
		Backoff: remote.BackoffConfig{
			InitialDelay: config.Duration(c.Backoff.Initial, d.Backoff.InitialDelay),
			Multiplier:   c.Backoff.Multiplier,
			MaxDelay:     config.Duration(c.Backoff.Max, d.Backoff.MaxDelay),
			Jitter:       c.Backoff.Jitter,
		},
		CommandTimeout: config.Duration(c.CommandTimeout, d.CommandTimeout),
	}
}

func sshclientConfig(c *config.ClientConfig) sshclient.Config {
	return sshclient.Config{
		User:                  c.User,
		KeyPath:               c.Key,
		Passphrase:            c.Passphrase,
		KnownHostsPath:        c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		ConnectTimeout:        config.Duration(c.ConnectTimeout, sshclient.DefaultConnectTimeout),
	}
}

// newRegistry returns the registry selected by client.locator.registry.
func newRegistry(cfg *config.Config) (locator.Registry, error) {
	if cfg.Client.Locator.Registry != "static" {
		return locator.NewSwarmRegistry(docker.New(cfg.Gateway.DockerBinary)), nil
	}
	reg := locator.NewStaticRegistry()
	services := make([]string, 0, len(cfg.Client.Locator.Static))
	for svc := range cfg.Client.Locator.Static {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		if err := reg.Register(svc, cfg.Client.Locator.Static[svc]...); err != nil {
			return nil, fmt.Errorf("client.locator.static.%s: %w", svc, err)
		}
	}
	return reg, nil
}

// clientStack is the orchestrator side: locator, pool and executor facade.
type clientStack struct {
	locator  *locator.Locator
	pool     *pool.Manager
	executor *remote.Executor
}

// newClientStack wires the client components from cfg. Endpoint outcomes
// observed by the pool feed the locator, and locator evictions drop the
// pool's sessions for the evicted endpoint.
func newClientStack(cfg *config.Config) (*clientStack, error) {
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	dialer, err := sshclient.NewDialer(sshclientConfig(&cfg.Client))
	if err != nil {
		return nil, fmt.Errorf("ssh client: %w", err)
	}
	pcfg, err := poolConfig(&cfg.Client)
	if err != nil {
		return nil, err
	}
	return assembleClientStack(reg, dialer, pcfg, locatorConfig(&cfg.Client), remoteConfig(&cfg.Client)), nil
}

func assembleClientStack(reg locator.Registry, dialer pool.Dialer, pcfg pool.Config, lcfg locator.Config, rcfg remote.Config) *clientStack {
	s := &clientStack{}
	s.locator = locator.New(reg, lcfg, locator.WithEvictHook(func(ep endpoint.Endpoint) {
		s.pool.Evict(ep)
	}))
	s.pool = pool.New(dialer, pcfg, pool.WithReporter(s.locator))
	s.executor = remote.New(s.locator, s.pool, rcfg)
	return s
}

// Close shuts the pool down, closing every session.
func (s *clientStack) Close() error {
	st := s.pool.Stats()
	clog.Debug("client: closing pool (%d sessions across %d endpoints)", st.Total, st.Endpoints)
	return s.pool.Close()
}
