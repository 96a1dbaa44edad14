// Package endpoint defines the resolved network location of a gateway
// instance and the connectivity error taxonomy shared by the locator,
// the session pool, and the remote executor.
package endpoint

import (
	"net"
	"strconv"
)

// Endpoint is a reachable gateway instance for a logical service.
// It is a comparable value: two endpoints are the same instance only when
// service, host, and port all match.
type Endpoint struct {
	Service string `json:"service" yaml:"service"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// Addr returns the dialable host:port form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns service@host:port.
func (e Endpoint) String() string {
	return e.Service + "@" + e.Addr()
}

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// Outcome is an endpoint health signal.
type Outcome int

const (
	// Success means a session reached the gateway and completed an exchange.
	Success Outcome = iota
	// Failure means a connectivity error occurred against the endpoint.
	Failure
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Reporter receives endpoint health signals.
type Reporter interface {
	ReportOutcome(ep Endpoint, outcome Outcome)
}

// ReporterFunc adapts a function into a Reporter.
type ReporterFunc func(ep Endpoint, outcome Outcome)

// ReportOutcome calls f(ep, outcome).
func (f ReporterFunc) ReportOutcome(ep Endpoint, outcome Outcome) {
	f(ep, outcome)
}
