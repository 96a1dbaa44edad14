package gatekeeper

import (
	"os"
	"strings"

	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// Targets maps a service type to the local container its commands run in.
type Targets map[string]string

// ContainerEnvVar returns the environment variable that selects the
// container for serviceType, e.g. NEXTCLOUD_CONTAINER.
func ContainerEnvVar(serviceType string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(serviceType))
	return name + "_CONTAINER"
}

// DefaultTargets returns the stock containers: each service type runs in a
// container of the same name.
func DefaultTargets() Targets {
	return Targets{
		whitelist.Nextcloud:  whitelist.Nextcloud,
		whitelist.PhotoPrism: whitelist.PhotoPrism,
	}
}

// ResolveTargets builds Targets for serviceTypes. Precedence: environment
// (via lookup, os.LookupEnv when nil), then overrides, then the service
// type name itself.
func ResolveTargets(serviceTypes []string, overrides map[string]string, lookup func(string) (string, bool)) Targets {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	t := make(Targets, len(serviceTypes))
	for _, st := range serviceTypes {
		if v, ok := lookup(ContainerEnvVar(st)); ok && strings.TrimSpace(v) != "" {
			t[st] = strings.TrimSpace(v)
			continue
		}
		if v := strings.TrimSpace(overrides[st]); v != "" {
			t[st] = v
			continue
		}
		t[st] = st
	}
	return t
}

// Container returns the container for serviceType, falling back to the
// service type name.
func (t Targets) Container(serviceType string) string {
	if c, ok := t[serviceType]; ok && c != "" {
		return c
	}
	return serviceType
}
