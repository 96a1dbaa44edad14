package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteDefault writes the commented default configuration to path unless
// a file already exists there. It reports whether a file was created.
// The file is written with 0600 permissions.
func WriteDefault(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("ensure config dir: %w", err)
	}

	data := []byte(defaultConfigTemplate)
	if FormatFromPath(path) == TOML {
		data, err = Marshal(DefaultConfig(), TOML)
		if err != nil {
			return false, err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}
