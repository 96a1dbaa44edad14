// Package config provides the swarmproxy configuration file: gateway and
// client settings read from YAML or TOML, with defaults for every field.
package config

// Config is the top-level configuration. It is typically stored at
// ~/.config/swarmproxy/config.yaml, or /etc/swarmproxy/config.yaml on
// gateway hosts.
type Config struct {
	Log       LogConfig     `yaml:"log" toml:"log"`
	Gateway   GatewayConfig `yaml:"gateway" toml:"gateway"`
	Client    ClientConfig  `yaml:"client" toml:"client"`
	Admin     AdminConfig   `yaml:"admin" toml:"admin"`
	Whitelist []RuleConfig  `yaml:"whitelist,omitempty" toml:"whitelist,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// File receives JSON log lines. Empty means the default state path.
	File string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// GatewayConfig configures the server side (serve and gate).
type GatewayConfig struct {
	Listen           string `yaml:"listen" toml:"listen"`
	ServiceType      string `yaml:"service_type,omitempty" toml:"service_type,omitempty"`
	HostKey          string `yaml:"host_key" toml:"host_key"`
	AuthorizedKeys   string `yaml:"authorized_keys" toml:"authorized_keys"`
	CommandTimeout   string `yaml:"command_timeout" toml:"command_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	DockerBinary     string `yaml:"docker_binary" toml:"docker_binary"`
	// Containers maps service type to target container. NEXTCLOUD_CONTAINER
	// style environment variables take precedence.
	Containers map[string]string `yaml:"containers,omitempty" toml:"containers,omitempty"`
}

// ClientConfig configures the orchestrator side (run, discover).
type ClientConfig struct {
	User                  string        `yaml:"user" toml:"user"`
	Key                   string        `yaml:"key" toml:"key"`
	Passphrase            string        `yaml:"passphrase,omitempty" toml:"passphrase,omitempty"`
	KnownHosts            string        `yaml:"known_hosts" toml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty" toml:"insecure_ignore_host_key,omitempty"`
	ConnectTimeout        string        `yaml:"connect_timeout" toml:"connect_timeout"`
	CommandTimeout        string        `yaml:"command_timeout" toml:"command_timeout"`
	MaxAttempts           int           `yaml:"max_attempts" toml:"max_attempts"`
	Backoff               BackoffConfig `yaml:"backoff" toml:"backoff"`
	Pool                  PoolConfig    `yaml:"pool" toml:"pool"`
	Locator               LocatorConfig `yaml:"locator" toml:"locator"`
}

// BackoffConfig shapes retry delays.
type BackoffConfig struct {
	Initial    string  `yaml:"initial" toml:"initial"`
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`
	Max        string  `yaml:"max" toml:"max"`
	Jitter     bool    `yaml:"jitter,omitempty" toml:"jitter,omitempty"`
}

// PoolConfig bounds pooled sessions.
type PoolConfig struct {
	MaxPerEndpoint int    `yaml:"max_per_endpoint" toml:"max_per_endpoint"`
	AcquireTimeout string `yaml:"acquire_timeout" toml:"acquire_timeout"`
	// OnExhausted is "wait" or "fail".
	OnExhausted   string `yaml:"on_exhausted" toml:"on_exhausted"`
	IdleTimeout   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepInterval string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// LocatorConfig selects and tunes service discovery.
type LocatorConfig struct {
	// Registry is "swarm" or "static".
	Registry         string `yaml:"registry" toml:"registry"`
	TTL              string `yaml:"ttl" toml:"ttl"`
	MaxErrors        int    `yaml:"max_errors" toml:"max_errors"`
	ProbeTimeout     string `yaml:"probe_timeout" toml:"probe_timeout"`
	DiscoveryTimeout string `yaml:"discovery_timeout" toml:"discovery_timeout"`
	// Static maps service names to "host:port" addresses for the static
	// registry.
	Static map[string][]string `yaml:"static,omitempty" toml:"static,omitempty"`
}

// AdminConfig configures the optional HTTP admin listener.
type AdminConfig struct {
	// Listen enables /healthz, /readyz and /metrics when non-empty.
	Listen string `yaml:"listen,omitempty" toml:"listen,omitempty"`
}

// RuleConfig is one whitelist entry. When any are given they replace the
// built-in whitelist entirely.
type RuleConfig struct {
	ServiceType string   `yaml:"service_type" toml:"service_type"`
	Prefix      []string `yaml:"prefix" toml:"prefix"`
	Verbs       []string `yaml:"verbs" toml:"verbs"`
}
