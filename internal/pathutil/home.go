// Package pathutil expands user-supplied paths from flags and config files.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading ~ with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Expand substitutes $VAR and ${VAR} references, then expands a leading ~.
// Unset variables expand to the empty string. Empty input stays empty.
func Expand(path string) string {
	if path == "" {
		return ""
	}
	return ExpandHome(os.ExpandEnv(path))
}
