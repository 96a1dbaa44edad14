package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/nextprism/swarmproxy/internal/sshkeys"
)

// KeyPair generates a fresh ed25519 key pair.
func KeyPair(t *testing.T, comment string) *sshkeys.KeyPair {
	t.Helper()
	kp, err := sshkeys.Generate(comment)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return kp
}

// Signer parses the private half of kp.
func Signer(t *testing.T, kp *sshkeys.KeyPair) ssh.Signer {
	t.Helper()
	s, err := kp.Signer()
	if err != nil {
		t.Fatalf("parse signer: %v", err)
	}
	return s
}

// AuthorizedKeys builds an allow list from the given pairs.
func AuthorizedKeys(t *testing.T, pairs ...*sshkeys.KeyPair) *sshkeys.AuthorizedKeys {
	t.Helper()
	var data []byte
	for _, kp := range pairs {
		data = append(data, kp.AuthorizedKey...)
	}
	ak, err := sshkeys.ParseAuthorizedKeys(data)
	if err != nil {
		t.Fatalf("parse authorized keys: %v", err)
	}
	return ak
}

// WriteKeyPair writes kp under t.TempDir() and returns the private key path.
func WriteKeyPair(t *testing.T, kp *sshkeys.KeyPair, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := kp.WriteFiles(path, false); err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	return path
}

// WriteFile writes data to name under t.TempDir() and returns the path.
func WriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
