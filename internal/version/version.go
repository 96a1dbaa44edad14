// Package version provides version information for swarmproxy.
// The Version variable is set at build time via ldflags.
package version

import "strings"

// Version is the current version of swarmproxy.
// Set at build time via: -ldflags "-X github.com/nextprism/swarmproxy/internal/version.Version=v1.0.0"
// Defaults to "dev" for development builds.
var Version = "dev"

// IsDev reports whether this is a development build.
func IsDev() bool {
	return strings.Contains(Version, "dev")
}

// SSHIdent returns the SSH software version identifier, e.g.
// "SSH-2.0-swarmproxy_v1.0.0". Whitespace and minus signs are not allowed
// in the software version, so they become dots.
func SSHIdent() string {
	v := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return '.'
		}
		return r
	}, Version)
	return "SSH-2.0-swarmproxy_" + v
}
