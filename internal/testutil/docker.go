// Package testutil provides shared test helpers for swarmproxy tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextprism/swarmproxy/internal/docker"
)

// RequireDocker skips the test if Docker is not available.
func RequireDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := docker.New("").CheckDaemon(ctx); err != nil {
		t.Skipf("Docker not available: %v", err)
	}
}

// RequireSwarm skips the test unless the local daemon is a Swarm manager.
func RequireSwarm(t *testing.T) {
	t.Helper()
	RequireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := docker.New("").ListServices(ctx); err != nil {
		t.Skipf("Docker Swarm not available: %v", err)
	}
}

// FakeDocker installs a shell script standing in for the docker CLI.
// responses maps "<verb> <subverb>" (e.g. "service ls") to stdout; other
// invocations exit 1. The returned function lists every invocation's
// arguments, one string per call.
func FakeDocker(t *testing.T, responses map[string]string) (*docker.CLI, func() []string) {
	t.Helper()
	dir := t.TempDir()
	log := filepath.Join(dir, "calls")

	var script strings.Builder
	fmt.Fprintf(&script, "#!/bin/sh\necho \"$@\" >> %q\ncase \"$1 $2\" in\n", log)
	for key, out := range responses {
		name := strings.ReplaceAll(key, " ", "_")
		if err := os.WriteFile(filepath.Join(dir, name), []byte(out), 0o600); err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(&script, "%q) cat %q ;;\n", key, filepath.Join(dir, name))
	}
	script.WriteString("*) echo \"unknown command: $1 $2\" >&2; exit 1 ;;\nesac\n")

	bin := filepath.Join(dir, "docker")
	if err := os.WriteFile(bin, []byte(script.String()), 0o700); err != nil {
		t.Fatal(err)
	}

	calls := func() []string {
		data, err := os.ReadFile(log)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			t.Fatalf("read calls: %v", err)
		}
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
	return docker.New(bin), calls
}
