// Package cmd implements the CLI commands for swarmproxy.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/pathutil"
	"github.com/nextprism/swarmproxy/internal/term"
	"github.com/nextprism/swarmproxy/internal/version"
)

var (
	configPath string
	debugFlag  bool
	silentFlag bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "swarmproxy",
	Short: "Least-privilege SSH command gateway for Docker Swarm services",
	Long: `swarmproxy lets an orchestrator run a small, fixed set of maintenance
commands (Nextcloud occ, PhotoPrism CLI) inside service containers spread
across Docker Swarm nodes, without handing out a remote shell.

On each node, "swarmproxy serve" (or "swarmproxy gate" behind sshd's
ForceCommand) accepts a command, checks it against the whitelist and runs it
with docker exec. On the orchestrator, "swarmproxy run" discovers the node,
pools SSH sessions to it and retries transient connection failures.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		term.SetSilent(silentFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $SWARMPROXY_CONFIG or ~/.config/swarmproxy/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&silentFlag, "silent", "s", false, "suppress normal output")
}

// Execute runs the root command and returns any error.
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *ExitCodeError
	if err != nil && !errors.As(err, &exitErr) {
		term.Error("%v", err)
	}
	return err
}

// loadConfig loads the configuration selected by --config and configures
// logging from it. daemon selects JSON log lines instead of console
// warnings, for long-running servers whose stderr is a container log.
func loadConfig(daemon bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg, daemon); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, daemon bool) error {
	level := clog.ParseLevel(cfg.Log.Level)
	if debugFlag {
		level = clog.LevelDebug
	}
	opts := clog.Options{Level: level, Path: pathutil.Expand(cfg.Log.File), Daemon: daemon}
	if err := clog.Configure(opts); err != nil {
		return fmt.Errorf("log.file: %w", err)
	}
	return nil
}
