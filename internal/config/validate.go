package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that every field holds a usable value. The error names
// the offending field by its path in the file, e.g. "client.pool.idle_timeout".
func Validate(cfg *Config) error {
	if cfg.Log.Level != "" && !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level: invalid value %q, must be one of: debug, info, warn, error", cfg.Log.Level)
	}

	if err := validateGateway(&cfg.Gateway); err != nil {
		return err
	}
	if err := validateClient(&cfg.Client); err != nil {
		return err
	}

	if cfg.Admin.Listen != "" {
		if err := validateListenAddr(cfg.Admin.Listen, "admin.listen"); err != nil {
			return err
		}
	}

	for i, r := range cfg.Whitelist {
		field := fmt.Sprintf("whitelist[%d]", i)
		if strings.TrimSpace(r.ServiceType) == "" {
			return fmt.Errorf("%s.service_type: required", field)
		}
		if len(r.Prefix) == 0 {
			return fmt.Errorf("%s.prefix: at least one token required", field)
		}
		if len(r.Verbs) == 0 {
			return fmt.Errorf("%s.verbs: at least one verb required", field)
		}
	}
	return nil
}

func validateGateway(g *GatewayConfig) error {
	if g.Listen != "" {
		if err := validateListenAddr(g.Listen, "gateway.listen"); err != nil {
			return err
		}
	}
	if err := validateDuration(g.CommandTimeout, "gateway.command_timeout"); err != nil {
		return err
	}
	if err := validateDuration(g.HandshakeTimeout, "gateway.handshake_timeout"); err != nil {
		return err
	}
	for st, c := range g.Containers {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("gateway.containers.%s: empty container name", st)
		}
	}
	return nil
}

func validateClient(c *ClientConfig) error {
	durations := []struct{ value, field string }{
		{c.ConnectTimeout, "client.connect_timeout"},
		{c.CommandTimeout, "client.command_timeout"},
		{c.Backoff.Initial, "client.backoff.initial"},
		{c.Backoff.Max, "client.backoff.max"},
		{c.Pool.AcquireTimeout, "client.pool.acquire_timeout"},
		{c.Pool.IdleTimeout, "client.pool.idle_timeout"},
		{c.Pool.SweepInterval, "client.pool.sweep_interval"},
		{c.Locator.TTL, "client.locator.ttl"},
		{c.Locator.ProbeTimeout, "client.locator.probe_timeout"},
		{c.Locator.DiscoveryTimeout, "client.locator.discovery_timeout"},
	}
	for _, d := range durations {
		if err := validateDuration(d.value, d.field); err != nil {
			return err
		}
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("client.max_attempts: must be non-negative, got %d", c.MaxAttempts)
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return fmt.Errorf("client.backoff.multiplier: must be at least 1, got %g", c.Backoff.Multiplier)
	}
	if c.Pool.MaxPerEndpoint < 0 {
		return fmt.Errorf("client.pool.max_per_endpoint: must be non-negative, got %d", c.Pool.MaxPerEndpoint)
	}
	switch c.Pool.OnExhausted {
	case "", "wait", "fail":
	default:
		return fmt.Errorf("client.pool.on_exhausted: invalid value %q, must be wait or fail", c.Pool.OnExhausted)
	}
	if c.Locator.MaxErrors < 0 {
		return fmt.Errorf("client.locator.max_errors: must be non-negative, got %d", c.Locator.MaxErrors)
	}
	switch c.Locator.Registry {
	case "", "swarm":
	case "static":
		if len(c.Locator.Static) == 0 {
			return fmt.Errorf("client.locator.static: required when registry is static")
		}
	default:
		return fmt.Errorf("client.locator.registry: invalid value %q, must be swarm or static", c.Locator.Registry)
	}
	for svc, addrs := range c.Locator.Static {
		if len(addrs) == 0 {
			return fmt.Errorf("client.locator.static.%s: at least one address required", svc)
		}
		for i, a := range addrs {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("client.locator.static.%s[%d]: empty address", svc, i)
			}
		}
	}
	return nil
}

// validateListenAddr validates a listen address in the format ":port" or
// "host:port". Port 0 is accepted for an ephemeral port.
func validateListenAddr(addr, field string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: invalid format %q, expected host:port or :port", field, addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q in %q", field, portStr, addr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s: invalid port number %d, must be 0-65535", field, port)
	}
	return nil
}

// validateDuration accepts empty (use the built-in default) or anything
// time.ParseDuration accepts, as long as it is not negative.
func validateDuration(d, field string) error {
	if d == "" {
		return nil
	}
	v, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, d)
	}
	if v < 0 {
		return fmt.Errorf("%s: must not be negative, got %s", field, d)
	}
	return nil
}

// Duration parses a validated duration field, returning def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
