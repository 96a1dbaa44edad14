package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/pathutil"
)

// EnvLogLevel overrides log.level.
const EnvLogLevel = "SWARMPROXY_LOG_LEVEL"

// Load reads the configuration at path, or DefaultPath() when path is
// empty. A missing file yields the defaults. Environment overrides are
// applied, then the result is validated and every ~ path expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	clog.Debug("config: loading %s", path)

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		clog.Debug("config: %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		cfg, err = Parse(data, FormatFromPath(path))
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	expandPaths(cfg)
	return cfg, nil
}

// ApplyEnv applies environment overrides using lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
}

func expandPaths(cfg *Config) {
	cfg.Log.File = pathutil.Expand(cfg.Log.File)
	cfg.Gateway.HostKey = pathutil.Expand(cfg.Gateway.HostKey)
	cfg.Gateway.AuthorizedKeys = pathutil.Expand(cfg.Gateway.AuthorizedKeys)
	cfg.Client.Key = pathutil.Expand(cfg.Client.Key)
	cfg.Client.KnownHosts = pathutil.Expand(cfg.Client.KnownHosts)
}
