package cmd

import (
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/nextprism/swarmproxy/internal/testutil"
)

func TestConfigCheck(t *testing.T) {
	client := testutil.KeyPair(t, "check@test")
	hostKey := testutil.WriteKeyPair(t, testutil.KeyPair(t, "host"), "ssh_host_ed25519_key")
	clientKey := testutil.WriteKeyPair(t, client, "client_ed25519")
	authorized := testutil.WriteFile(t, "authorized_keys", client.AuthorizedKey)
	knownHosts := testutil.WriteFile(t, "known_hosts", nil)

	cfg := "gateway:\n" +
		"  host_key: " + hostKey + "\n" +
		"  authorized_keys: " + authorized + "\n" +
		"client:\n" +
		"  key: " + clientKey + "\n" +
		"  known_hosts: " + knownHosts + "\n" +
		"  locator:\n" +
		"    registry: static\n" +
		"    static:\n" +
		"      nextcloud: [\"10.0.0.5:2222\"]\n"
	cfgPath := testutil.WriteFile(t, "config.yaml", []byte(cfg))

	out, err := execute(t, "config", "check", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	for _, want := range []string{
		`ok\s+whitelist\s+service types: nextcloud, photoprism`,
		`ok\s+gateway\.host_key\s+SHA256:`,
		`ok\s+gateway\.authorized_keys\s+1 keys`,
		`ok\s+client\.key\s+SHA256:`,
		`ok\s+client\.known_hosts\s+` + regexp.QuoteMeta(knownHosts),
		`ok\s+client\.locator\s+static registry`,
	} {
		if !regexp.MustCompile(want).MatchString(out) {
			t.Errorf("output does not match %q:\n%s", want, out)
		}
	}

	if err := os.Remove(authorized); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "config", "check", "--config", cfgPath, "--gateway")
	var ec *ExitCodeError
	if !errors.As(err, &ec) || ec.Code != 1 {
		t.Fatalf("config check with missing authorized_keys: err = %v", err)
	}
	if !regexp.MustCompile(`FAIL\s+gateway\.authorized_keys\s+missing`).MatchString(out) {
		t.Errorf("missing file not reported:\n%s", out)
	}
	if regexp.MustCompile(`client\.key`).MatchString(out) {
		t.Errorf("--gateway ran client checks:\n%s", out)
	}
	if !regexp.MustCompile(`Warning: 1 of 3 checks failed`).MatchString(out) {
		t.Errorf("summary missing:\n%s", out)
	}
}
