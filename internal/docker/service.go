package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ServiceInfo is one row of `docker service ls`.
type ServiceInfo struct {
	ID       string `json:"ID"`
	Name     string `json:"Name"`
	Mode     string `json:"Mode"`
	Replicas string `json:"Replicas"`
	Image    string `json:"Image"`
	Ports    string `json:"Ports"`
}

// Global reports whether the service runs in global mode.
func (s ServiceInfo) Global() bool {
	return strings.EqualFold(s.Mode, "global")
}

// ReplicaCounts parses Replicas ("2/3", "1/1 (max 1 per node)") into running
// and desired counts. ok is false when the field cannot be parsed.
func (s ServiceInfo) ReplicaCounts() (running, desired int, ok bool) {
	field, _, _ := strings.Cut(strings.TrimSpace(s.Replicas), " ")
	r, d, found := strings.Cut(field, "/")
	if !found {
		return 0, 0, false
	}
	running, err := strconv.Atoi(r)
	if err != nil {
		return 0, 0, false
	}
	desired, err = strconv.Atoi(d)
	if err != nil {
		return 0, 0, false
	}
	return running, desired, true
}

// ListServices returns Swarm services matching the given filters
// (e.g. "label=service=nextcloud-proxy"). Returns an empty slice when none
// match.
func (c *CLI) ListServices(ctx context.Context, filters ...string) ([]ServiceInfo, error) {
	args := []string{"service", "ls"}
	for _, f := range filters {
		args = append(args, "--filter", f)
	}

	return queryLines[ServiceInfo](ctx, c, false, args...)
}

type serviceSpec struct {
	ID   string `json:"ID"`
	Spec struct {
		Name   string            `json:"Name"`
		Labels map[string]string `json:"Labels"`
	} `json:"Spec"`
}

// ServiceLabels returns the labels of each named service, keyed by service
// name. Services that do not exist produce an error.
func (c *CLI) ServiceLabels(ctx context.Context, names ...string) (map[string]map[string]string, error) {
	if len(names) == 0 {
		return map[string]map[string]string{}, nil
	}

	args := append([]string{"service", "inspect"}, names...)
	specs, err := queryLines[serviceSpec](ctx, c, true, args...)
	if err != nil {
		return nil, fmt.Errorf("inspect services: %w", err)
	}

	labels := make(map[string]map[string]string, len(specs))
	for _, s := range specs {
		l := s.Spec.Labels
		if l == nil {
			l = map[string]string{}
		}
		labels[s.Spec.Name] = l
	}
	return labels, nil
}
