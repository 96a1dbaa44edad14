package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/admin"
	"github.com/nextprism/swarmproxy/internal/clog"
	"github.com/nextprism/swarmproxy/internal/config"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/gateway"
	"github.com/nextprism/swarmproxy/internal/sshkeys"
	"github.com/nextprism/swarmproxy/internal/term"
)

var (
	serveListen      string
	serveServiceType string
	serveAdminListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SSH gateway for one service type",
	Long: `Run the SSH gateway in the foreground.

Clients authenticate with a key listed in gateway.authorized_keys and may only
send exec requests. Each command is checked against the whitelist for the
served service type and, if allowed, run with docker exec in the service's
container. Shells, ptys, environment variables and forwarding are refused.

If admin.listen (or --admin-listen) is set, /healthz, /readyz, /metrics and
/v1/whitelist are served over HTTP on that address.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "SSH listen address (overrides gateway.listen)")
	serveCmd.Flags().StringVar(&serveServiceType, "service-type", "", "service type to serve (overrides gateway.service_type)")
	serveCmd.Flags().StringVar(&serveAdminListen, "admin-listen", "", "admin HTTP listen address (overrides admin.listen)")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cfg *config.Config) {
	if serveListen != "" {
		cfg.Gateway.Listen = serveListen
	}
	if serveServiceType != "" {
		cfg.Gateway.ServiceType = serveServiceType
	}
	if serveAdminListen != "" {
		cfg.Admin.Listen = serveAdminListen
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	defer func() { _ = clog.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newGatewayServer(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	term.Printf("Serving %s on %s\n", cfg.Gateway.ServiceType, srv.Addr())

	var adminSrv *admin.Server
	if cfg.Admin.Listen != "" {
		table, _ := whitelistTable(cfg)
		adminSrv = admin.New(cfg.Admin.Listen,
			admin.WithReadiness(func() bool { return srv.Addr() != nil }),
			admin.WithWhitelist(table, cfg.Gateway.ServiceType),
		)
		if err := adminSrv.Start(); err != nil {
			_ = srv.Stop()
			return err
		}
		term.Printf("Admin endpoint on http://%s\n", adminSrv.Addr())
	}

	<-ctx.Done()
	clog.Info("serve: shutting down")

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			clog.Warn("serve: admin shutdown: %v", err)
		}
	}
	return srv.Stop()
}

// newGatewayServer builds a gateway for cfg.Gateway.ServiceType from the
// configured host key, authorized keys and whitelist.
func newGatewayServer(cfg *config.Config) (*gateway.Server, error) {
	serviceType := cfg.Gateway.ServiceType
	if serviceType == "" {
		return nil, fmt.Errorf("no service type: set gateway.service_type or pass --service-type")
	}

	gk, err := newGatekeeper(cfg, executor.NewRealExecutor(), os.Stderr)
	if err != nil {
		return nil, err
	}
	if !gk.Table().Has(serviceType) {
		return nil, fmt.Errorf("service type %q has no whitelist rule (known: %v)", serviceType, gk.Table().ServiceTypes())
	}

	hostKey, err := sshkeys.LoadSigner(cfg.Gateway.HostKey, "")
	if err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}
	authorized, err := sshkeys.LoadAuthorizedKeys(cfg.Gateway.AuthorizedKeys)
	if err != nil {
		return nil, fmt.Errorf("authorized keys: %w", err)
	}
	clog.Info("serve: %d authorized keys loaded from %s", authorized.Len(), cfg.Gateway.AuthorizedKeys)

	return gateway.NewServer(serviceType, gk, hostKey, authorized, gatewayOptions(cfg)...), nil
}
