package config

import (
	"os"

	"github.com/nextprism/swarmproxy/internal/pathutil"
)

// EnvConfigPath names the environment variable that overrides the config
// file location.
const EnvConfigPath = "SWARMPROXY_CONFIG"

// Dir returns the swarmproxy configuration directory path.
// By default, this is ~/.config/swarmproxy/. If the XDG_CONFIG_HOME
// environment variable is set, it uses $XDG_CONFIG_HOME/swarmproxy/ instead.
// The returned path always has a trailing slash.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = "~/.config"
	}
	return pathutil.ExpandHome(base) + "/swarmproxy/"
}

// DefaultPath returns $SWARMPROXY_CONFIG, or Dir() + "config.yaml".
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return pathutil.ExpandHome(p)
	}
	return Dir() + "config.yaml"
}
