package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/term"
)

var (
	checkGateway bool
	checkClient  bool
)

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the files the config references are usable",
	Long: `Load the configuration and the files it points at: the whitelist, the
gateway host key and authorized_keys, and the client key and known_hosts.

With neither --gateway nor --client, both sides are checked. Exits 1 when
any check fails.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

func init() {
	configCheckCmd.Flags().BoolVar(&checkGateway, "gateway", false, "check only the gateway side")
	configCheckCmd.Flags().BoolVar(&checkClient, "client", false, "check only the client side")
	configCmd.AddCommand(configCheckCmd)
}

type check struct {
	name string
	run  func(cfg *config.Config) (string, error)
}

var gatewayChecks = []check{
	{"whitelist", func(cfg *config.Config) (string, error) {
		table, err := whitelistTable(cfg)
		if err != nil {
			return "", err
		}
		return "service types: " + strings.Join(table.ServiceTypes(), ", "), nil
	}},
	{"gateway.host_key", func(cfg *config.Config) (string, error) {
		signer, err := sshkeys.LoadSigner(cfg.Gateway.HostKey, "")
		if err != nil {
			return "", err
		}
		return ssh.FingerprintSHA256(signer.PublicKey()), nil
	}},
	{"gateway.authorized_keys", func(cfg *config.Config) (string, error) {
		keys, err := sshkeys.LoadAuthorizedKeys(cfg.Gateway.AuthorizedKeys)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d keys", keys.Len()), nil
	}},
}

var clientChecks = []check{
	{"client.key", func(cfg *config.Config) (string, error) {
		signer, err := sshkeys.LoadSigner(cfg.Client.Key, cfg.Client.Passphrase)
		if err != nil {
			return "", err
		}
		return ssh.FingerprintSHA256(signer.PublicKey()), nil
	}},
	{"client.known_hosts", func(cfg *config.Config) (string, error) {
		if cfg.Client.InsecureIgnoreHostKey {
			return "host keys not verified", nil
		}
		if _, err := knownhosts.New(cfg.Client.KnownHosts); err != nil {
			return "", err
		}
		return cfg.Client.KnownHosts, nil
	}},
	{"client.locator", func(cfg *config.Config) (string, error) {
		if _, err := newRegistry(cfg); err != nil {
			return "", err
		}
		return cfg.Client.Locator.Registry + " registry", nil
	}},
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	var checks []check
	both := !checkGateway && !checkClient
	if both || checkGateway {
		checks = append(checks, gatewayChecks...)
	}
	if both || checkClient {
		checks = append(checks, clientChecks...)
	}

	failed := runChecks(cfg, checks, term.Stdout())
	if failed > 0 {
		term.Warn("%d of %d checks failed", failed, len(checks))
		return NewExitCodeError(1)
	}
	return nil
}

func runChecks(cfg *config.Config, checks []check, out io.Writer) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	failed := 0
	for _, c := range checks {
		detail, err := c.run(cfg)
		status := "ok"
		if err != nil {
			failed++
			status = "FAIL"
			detail = err.Error()
			if errors.Is(err, os.ErrNotExist) {
				detail = "missing"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", status, c.name, detail)
	}
	_ = w.Flush()
	return failed
}
