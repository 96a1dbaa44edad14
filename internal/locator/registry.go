package locator

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nextprism/swarmproxy/internal/docker"
)

// Swarm labels.
const (
	// ServiceLabel tags a gateway service with "<name>-proxy".
	ServiceLabel = "service"
	// PortLabel optionally overrides the gateway port.
	PortLabel = "swarmproxy.port"
	// ProxySuffix is appended to the logical service name in ServiceLabel.
	ProxySuffix = "-proxy"
	// DefaultPort is the gateway port when no label overrides it.
	DefaultPort = 2222
)

// Candidate is a registered gateway instance before it has been probed.
type Candidate struct {
	Host string
	Port int
}

// Registry lists candidate gateway instances for a logical service.
// An empty result with a nil error means no instance is registered.
type Registry interface {
	Candidates(ctx context.Context, service string) ([]Candidate, error)
}

// StaticRegistry is an in-memory registry of configured addresses.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]Candidate
}

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{services: make(map[string][]Candidate)}
}

// Register adds addresses ("host:port", or "host" for DefaultPort) for
// service.
func (r *StaticRegistry) Register(service string, addrs ...string) error {
	cands := make([]Candidate, 0, len(addrs))
	for _, addr := range addrs {
		c, err := ParseCandidate(addr)
		if err != nil {
			return fmt.Errorf("register %s: %w", service, err)
		}
		cands = append(cands, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = append(r.services[service], cands...)
	return nil
}

// Deregister removes every address for service.
func (r *StaticRegistry) Deregister(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, service)
}

// Candidates returns the registered addresses for service in order.
func (r *StaticRegistry) Candidates(_ context.Context, service string) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Candidate(nil), r.services[service]...), nil
}

// Services returns the registered service names, sorted.
func (r *StaticRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseCandidate parses "host:port" or a bare host.
func ParseCandidate(addr string) (Candidate, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Candidate{}, fmt.Errorf("empty address")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port.
		return Candidate{Host: strings.Trim(addr, "[]"), Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Candidate{}, fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		return Candidate{}, fmt.Errorf("missing host in %q", addr)
	}
	return Candidate{Host: host, Port: port}, nil
}

// SwarmRegistry finds gateways deployed as Swarm services labeled
// service=<name>-proxy. The Swarm service name is the candidate host,
// resolvable on the shared overlay network.
type SwarmRegistry struct {
	cli *docker.CLI
}

// NewSwarmRegistry uses cli to query the Swarm manager.
func NewSwarmRegistry(cli *docker.CLI) *SwarmRegistry {
	return &SwarmRegistry{cli: cli}
}

// Candidates lists services labeled for service. Multiple matches are all
// returned, in the order docker lists them.
func (r *SwarmRegistry) Candidates(ctx context.Context, service string) ([]Candidate, error) {
	services, err := r.cli.ListServices(ctx, "label="+ServiceLabel+"="+service+ProxySuffix)
	if err != nil {
		return nil, fmt.Errorf("list %s proxies: %w", service, err)
	}
	if len(services) == 0 {
		return nil, nil
	}

	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	labels, err := r.cli.ServiceLabels(ctx, names...)
	if err != nil {
		return nil, err
	}

	cands := make([]Candidate, 0, len(services))
	for _, s := range services {
		cands = append(cands, Candidate{Host: s.Name, Port: portFromLabels(labels[s.Name])})
	}
	return cands, nil
}

func portFromLabels(labels map[string]string) int {
	if v, ok := labels[PortLabel]; ok {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && p > 0 && p <= 65535 {
			return p
		}
	}
	return DefaultPort
}

// ProxyInfo describes one gateway service in the Swarm.
type ProxyInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	ID       string `json:"id"`
	Replicas string `json:"replicas"`
	Port     int    `json:"port"`
}

// ListProxies returns every Swarm service whose service label ends in
// "-proxy". Replicas reads "running/desired" or "N (global)".
func (r *SwarmRegistry) ListProxies(ctx context.Context) ([]ProxyInfo, error) {
	services, err := r.cli.ListServices(ctx, "label="+ServiceLabel)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	if len(services) == 0 {
		return nil, nil
	}

	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	labels, err := r.cli.ServiceLabels(ctx, names...)
	if err != nil {
		return nil, err
	}

	var proxies []ProxyInfo
	for _, s := range services {
		l := labels[s.Name]
		typ, ok := strings.CutSuffix(l[ServiceLabel], ProxySuffix)
		if !ok || typ == "" {
			continue
		}
		id := s.ID
		if len(id) > 12 {
			id = id[:12]
		}
		proxies = append(proxies, ProxyInfo{
			Name:     s.Name,
			Type:     typ,
			ID:       id,
			Replicas: replicaSummary(s),
			Port:     portFromLabels(l),
		})
	}
	return proxies, nil
}

func replicaSummary(s docker.ServiceInfo) string {
	running, desired, ok := s.ReplicaCounts()
	switch {
	case !ok:
		return "unknown"
	case s.Global():
		return fmt.Sprintf("%d (global)", running)
	default:
		return fmt.Sprintf("%d/%d", running, desired)
	}
}
