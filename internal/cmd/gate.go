package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gatekeeper"
)

// EnvOriginalCommand is set by sshd to the client's command when a
// ForceCommand is in effect.
const EnvOriginalCommand = "SSH_ORIGINAL_COMMAND"

var gateServiceType string

var gateCmd = &cobra.Command{
	Use:   "gate [command...]",
	Short: "Validate and run one command (sshd ForceCommand mode)",
	Long: `Validate one command against the whitelist and run it in the service's
container, then exit with the command's exit status.

Intended as an sshd ForceCommand for the proxy user:

    Match User proxyuser
        ForceCommand /usr/local/bin/swarmproxy gate --service-type nextcloud

The command is read from $SSH_ORIGINAL_COMMAND, or from the arguments when
that is unset. Rejected commands exit 126 with the reason on stderr.`,
	RunE: runGate,
}

func init() {
	gateCmd.Flags().StringVar(&gateServiceType, "service-type", "", "service type (overrides gateway.service_type)")
	// Flags after the first argument belong to the gated command.
	gateCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(gateCmd)
}

// gateCommand returns the raw command line to validate.
func gateCommand(args []string, lookup func(string) (string, bool)) string {
	if v, ok := lookup(EnvOriginalCommand); ok {
		return v
	}
	return strings.Join(args, " ")
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if gateServiceType != "" {
		cfg.Gateway.ServiceType = gateServiceType
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	code, err := gate(ctx, cfg, executor.NewRealExecutor(), gateCommand(args, os.LookupEnv), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if code != 0 {
		return NewExitCodeError(code)
	}
	return nil
}

// gate runs raw through a gatekeeper built from cfg, copies the command's
// output to stdout and stderr, and returns the exit code to report.
// Audit lines go to stderr ahead of the command's own output.
func gate(ctx context.Context, cfg *config.Config, exec executor.Executor, raw string, stdout, stderr io.Writer) (int, error) {
	if cfg.Gateway.ServiceType == "" {
		return 0, fmt.Errorf("no service type: set gateway.service_type or pass --service-type")
	}
	gk, err := newGatekeeper(cfg, exec, stderr)
	if err != nil {
		return 0, err
	}

	result, err := gk.ValidateAndExecute(ctx, cfg.Gateway.ServiceType, raw)
	if errors.Is(err, gatekeeper.ErrValidation) {
		_, _ = fmt.Fprintf(stderr, "swarmproxy: rejected: %s\n", gatekeeper.RejectReason(err))
		return gatekeeper.ExitRejected, nil
	}

	_, _ = io.WriteString(stdout, result.Stdout)
	_, _ = io.WriteString(stderr, result.Stderr)

	var ee *gatekeeper.ExecutionError
	if errors.As(err, &ee) && ee.Reason != "" {
		_, _ = fmt.Fprintf(stderr, "swarmproxy: %s\n", ee.Reason)
	}
	return gatekeeper.ExitCode(result, err), nil
}
