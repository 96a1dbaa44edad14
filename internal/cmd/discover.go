package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/docker"
	"github.com/nextprism/swarmproxy/internal/locator"
	"github.com/nextprism/swarmproxy/internal/term"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [SERVICE]",
	Short: "List gateways or resolve one service",
	Long: `Without arguments, list the gateway services found in Docker Swarm
(services labeled service=<name>-proxy) with their replica counts.

With SERVICE, resolve it the way "swarmproxy run" would: look it up in the
configured registry, probe each candidate and print the first reachable
endpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if len(args) == 1 {
		reg, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		loc := locator.New(reg, locatorConfig(&cfg.Client))
		ep, err := loc.Resolve(ctx, args[0])
		if err != nil {
			if derr := dockerError(err); derr != nil {
				return derr
			}
			return err
		}
		term.Println(ep.String())
		return nil
	}

	proxies, err := locator.NewSwarmRegistry(docker.New(cfg.Gateway.DockerBinary)).ListProxies(ctx)
	if err != nil {
		if derr := dockerError(err); derr != nil {
			return derr
		}
		return fmt.Errorf("list gateways: %w", err)
	}
	if len(proxies) == 0 {
		term.Println("No gateway services found")
		return nil
	}

	w := tabwriter.NewWriter(term.Stdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tTYPE\tID\tREPLICAS\tPORT")
	for _, p := range proxies {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.Name, p.Type, p.ID, p.Replicas, p.Port)
	}
	return w.Flush()
}
