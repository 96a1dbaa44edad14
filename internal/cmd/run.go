package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/remote"
	"github.com/nextprism/swarmproxy/internal/term"
)

var (
	runTimeout  time.Duration
	runAttempts int
)

var runCmd = &cobra.Command{
	Use:   "run SERVICE COMMAND...",
	Short: "Run a whitelisted command on a service's gateway",
	Long: `Discover the gateway for SERVICE, run COMMAND on it and relay its output
and exit status.

The gateway is found through the configured registry (Docker Swarm labels by
default). Connection failures are retried with exponential backoff up to
client.max_attempts; a command that runs and fails, or that the gateway
rejects, is never retried.

Flags for run itself go before SERVICE; everything after SERVICE is the
remote command, flags included.

Examples:
  swarmproxy run nextcloud php occ status
  swarmproxy run --timeout 10m photoprism photoprism index --cleanup`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "bound the remote command (overrides client.command_timeout)")
	runCmd.Flags().IntVar(&runAttempts, "attempts", 0, "connection attempts (overrides client.max_attempts)")
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if runAttempts > 0 {
		cfg.Client.MaxAttempts = runAttempts
	}

	stack, err := newClientStack(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		ctx = remote.WithCommandTimeout(ctx, runTimeout)
	}

	result, err := stack.executor.Run(ctx, args[0], strings.Join(args[1:], " "))
	return relayResult(result, err)
}

// relayResult copies a remote command's output to the terminal and turns
// its outcome into the process exit status.
func relayResult(result executor.Result, err error) error {
	_, _ = io.WriteString(term.Stdout(), result.Stdout)
	_, _ = io.WriteString(term.Stderr(), result.Stderr)
	if err == nil {
		return nil
	}

	var ce *remote.CommandError
	if errors.As(err, &ce) {
		if reason, ok := ce.Rejected(); ok {
			term.Warn("gateway rejected the command: %s", reason)
		}
		return NewExitCodeError(remoteExitCode(err))
	}
	if errors.Is(err, remote.ErrExhausted) {
		return fmt.Errorf("%w (check that the gateway is running and reachable)", err)
	}
	return err
}
