package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/pathutil"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/term"
)

var (
	keygenComment string
	keygenForce   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen PATH",
	Short: "Generate an ed25519 key pair",
	Long: `Generate an ed25519 key pair in OpenSSH format.

The private key is written to PATH (mode 0600) and the public key, as an
authorized_keys line, to PATH.pub. Use it for the gateway host key and for
the orchestrator's client key; append the client's .pub line to the
gateway's authorized_keys file.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenComment, "comment", "C", "", "key comment (default user@host)")
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "overwrite existing files")
	rootCmd.AddCommand(keygenCmd)
}

func defaultKeyComment() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "swarmproxy"
	}
	host, err := os.Hostname()
	if err != nil {
		return user
	}
	return user + "@" + host
}

func runKeygen(cmd *cobra.Command, args []string) error {
	path := pathutil.Expand(args[0])
	comment := keygenComment
	if comment == "" {
		comment = defaultKeyComment()
	}

	kp, err := sshkeys.Generate(comment)
	if err != nil {
		return err
	}
	if err := kp.WriteFiles(path, keygenForce); err != nil {
		return fmt.Errorf("write key pair: %w", err)
	}
	fp, err := sshkeys.Fingerprint(kp.AuthorizedKey)
	if err != nil {
		return err
	}

	term.Printf("Private key: %s\n", path)
	term.Printf("Public key:  %s.pub\n", path)
	term.Printf("Fingerprint: %s\n", fp)
	return nil
}
