// Package sshkeys generates and loads the ed25519 key material used by the
// gateway (host key, authorized_keys) and the client (identity).
package sshkeys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoKeys indicates an authorized_keys source contained no usable keys.
var ErrNoKeys = errors.New("no authorized keys")

// KeyPair is an OpenSSH-format private key and its authorized_keys line.
type KeyPair struct {
	PrivatePEM    []byte
	AuthorizedKey []byte
}

// Generate creates a new ed25519 key pair.
func Generate(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}

	line := bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub))
	if comment != "" {
		line = append(line, ' ')
		line = append(line, comment...)
	}
	line = append(line, '\n')

	return &KeyPair{
		PrivatePEM:    pem.EncodeToMemory(block),
		AuthorizedKey: line,
	}, nil
}

// Signer parses the private half of the pair.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	return ssh.ParsePrivateKey(k.PrivatePEM)
}

// WriteFiles writes the private key to path (0600) and the public key to
// path + ".pub" (0644). Existing files are not overwritten unless force is set.
func (k *KeyPair) WriteFiles(path string, force bool) error {
	if !force {
		for _, p := range []string{path, path + ".pub"} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists", p)
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, k.PrivatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", k.AuthorizedKey, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// LoadSigner reads a private key file. passphrase may be empty for
// unencrypted keys.
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return signer, nil
}

// AuthorizedKeys is an immutable set of public keys allowed to connect.
type AuthorizedKeys struct {
	keys map[string]string // wire-format key -> comment
}

// ParseAuthorizedKeys parses authorized_keys content. Blank lines and
// comments are skipped; options such as command="..." are ignored.
func ParseAuthorizedKeys(data []byte) (*AuthorizedKeys, error) {
	ak := &AuthorizedKeys{keys: make(map[string]string)}
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		pub, comment, _, _, err := ssh.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("parse authorized key on line %d: %w", i+1, err)
		}
		ak.keys[string(pub.Marshal())] = comment
	}
	if len(ak.keys) == 0 {
		return nil, ErrNoKeys
	}
	return ak, nil
}

// LoadAuthorizedKeys reads and parses an authorized_keys file.
func LoadAuthorizedKeys(path string) (*AuthorizedKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	ak, err := ParseAuthorizedKeys(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ak, nil
}

// Contains reports whether key is authorized, and its comment.
func (a *AuthorizedKeys) Contains(key ssh.PublicKey) (comment string, ok bool) {
	if a == nil || key == nil {
		return "", false
	}
	comment, ok = a.keys[string(key.Marshal())]
	return comment, ok
}

// Len returns the number of keys.
func (a *AuthorizedKeys) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(authorizedLine []byte) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(bytes.TrimSpace(authorizedLine))
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(pub), nil
}

// KnownHostsLine formats a known_hosts entry for a host key served at addr.
func KnownHostsLine(addr string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{addr}, key)
}
