package config

// DefaultConfig returns a Config with all defaults populated.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Gateway: GatewayConfig{
			Listen:           ":2222",
			HostKey:          "/etc/swarmproxy/ssh_host_ed25519_key",
			AuthorizedKeys:   "/etc/swarmproxy/authorized_keys",
			CommandTimeout:   "30m",
			HandshakeTimeout: "10s",
			DockerBinary:     "docker",
		},
		Client: ClientConfig{
			User:           "proxyuser",
			Key:            "~/.ssh/swarmproxy_ed25519",
			KnownHosts:     "~/.ssh/known_hosts",
			ConnectTimeout: "10s",
			CommandTimeout: "60s",
			MaxAttempts:    3,
			Backoff: BackoffConfig{
				Initial:    "1s",
				Multiplier: 2,
				Max:        "30s",
			},
			Pool: PoolConfig{
				MaxPerEndpoint: 5,
				AcquireTimeout: "30s",
				OnExhausted:    "wait",
				IdleTimeout:    "5m",
				SweepInterval:  "30s",
			},
			Locator: LocatorConfig{
				Registry:         "swarm",
				TTL:              "60s",
				MaxErrors:        3,
				ProbeTimeout:     "5s",
				DiscoveryTimeout: "30s",
			},
		},
	}
}

// defaultConfigTemplate is written by `swarmproxy config init`.
const defaultConfigTemplate = `# swarmproxy configuration

log:
  # debug, info, warn or error. SWARMPROXY_LOG_LEVEL overrides.
  level: info
  # file: ~/.local/state/swarmproxy/swarmproxy.log

# Server side: swarmproxy serve / swarmproxy gate
gateway:
  listen: ":2222"
  # service_type: nextcloud
  host_key: /etc/swarmproxy/ssh_host_ed25519_key
  authorized_keys: /etc/swarmproxy/authorized_keys
  command_timeout: 30m
  handshake_timeout: 10s
  docker_binary: docker
  # Target containers per service type. NEXTCLOUD_CONTAINER and
  # PHOTOPRISM_CONTAINER take precedence.
  # containers:
  #   nextcloud: nextcloud-app
  #   photoprism: photoprism

# Orchestrator side: swarmproxy run / swarmproxy discover
client:
  user: proxyuser
  key: ~/.ssh/swarmproxy_ed25519
  known_hosts: ~/.ssh/known_hosts
  connect_timeout: 10s
  command_timeout: 60s
  max_attempts: 3
  backoff:
    initial: 1s
    multiplier: 2
    max: 30s
  pool:
    max_per_endpoint: 5
    acquire_timeout: 30s
    # wait or fail
    on_exhausted: wait
    idle_timeout: 5m
    sweep_interval: 30s
  locator:
    # swarm or static
    registry: swarm
    ttl: 60s
    max_errors: 3
    probe_timeout: 5s
    discovery_timeout: 30s
    # static:
    #   nextcloud: ["10.0.0.5:2222"]

# admin:
#   listen: "127.0.0.1:9102"

# Replaces the built-in whitelist when present.
# whitelist:
#   - service_type: nextcloud
#     prefix: [php, occ]
#     verbs: [files:scan, memories:index, status]
`
