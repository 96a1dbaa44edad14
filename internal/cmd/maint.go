package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextprism/swarmproxy/internal/commands"
	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

var (
	maintService string

	scanAll  bool
	scanUser string
	scanPath string

	memoriesUser   string
	memoriesFolder string

	indexCleanup bool
	importMove   bool
)

var nextcloudCmd = &cobra.Command{
	Use:   "nextcloud",
	Short: "Nextcloud maintenance commands",
}

var nextcloudScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rescan files (occ files:scan)",
	Long: `Rescan the Nextcloud file cache with occ files:scan.

--all scans every user. --user scans one user, and --path with it narrows
the scan to a folder inside that user's files. --path alone is a full
Nextcloud path such as /alice/files/Photos.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewNextcloud(r, serviceOr(whitelist.Nextcloud)).FilesScan(ctx, commands.ScanOptions{
				All:  scanAll,
				User: scanUser,
				Path: scanPath,
			})
		})
	},
}

var nextcloudMemoriesCmd = &cobra.Command{
	Use:   "memories-index",
	Short: "Reindex photos for the Memories app (occ memories:index)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewNextcloud(r, serviceOr(whitelist.Nextcloud)).MemoriesIndex(ctx, memoriesUser, memoriesFolder)
		})
	},
}

var nextcloudStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Nextcloud status (occ status)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewNextcloud(r, serviceOr(whitelist.Nextcloud)).Status(ctx)
		})
	},
}

var photoprismCmd = &cobra.Command{
	Use:   "photoprism",
	Short: "PhotoPrism maintenance commands",
}

var photoprismIndexCmd = &cobra.Command{
	Use:   "index [PATH]",
	Short: "Index originals (photoprism index)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewPhotoPrism(r, serviceOr(whitelist.PhotoPrism)).Index(ctx, firstArg(args), indexCleanup)
		})
	},
}

var photoprismImportCmd = &cobra.Command{
	Use:   "import [PATH]",
	Short: "Import files (photoprism import)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewPhotoPrism(r, serviceOr(whitelist.PhotoPrism)).Import(ctx, firstArg(args), importMove)
		})
	},
}

var photoprismStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show PhotoPrism status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(ctx context.Context, r commands.Runner) (executor.Result, error) {
			return commands.NewPhotoPrism(r, serviceOr(whitelist.PhotoPrism)).Status(ctx)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{nextcloudCmd, photoprismCmd} {
		c.PersistentFlags().StringVar(&maintService, "service", "", "Swarm service name (default: the service type)")
		rootCmd.AddCommand(c)
	}

	nextcloudScanCmd.Flags().BoolVar(&scanAll, "all", false, "scan every user")
	nextcloudScanCmd.Flags().StringVar(&scanUser, "user", "", "scan one user")
	nextcloudScanCmd.Flags().StringVar(&scanPath, "path", "", "scan one path (below the user's files with --user)")
	nextcloudMemoriesCmd.Flags().StringVar(&memoriesUser, "user", "", "index one user")
	nextcloudMemoriesCmd.Flags().StringVar(&memoriesFolder, "folder", "", "index one folder (requires --user)")
	nextcloudCmd.AddCommand(nextcloudScanCmd, nextcloudMemoriesCmd, nextcloudStatusCmd)

	photoprismIndexCmd.Flags().BoolVar(&indexCleanup, "cleanup", false, "remove orphaned index entries")
	photoprismImportCmd.Flags().BoolVar(&importMove, "move", false, "move files instead of copying")
	photoprismCmd.AddCommand(photoprismIndexCmd, photoprismImportCmd, photoprismStatusCmd)
}

func serviceOr(def string) string {
	if maintService != "" {
		return maintService
	}
	return def
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// withRunner builds the client stack, runs fn against it and relays the
// result.
func withRunner(fn func(ctx context.Context, r commands.Runner) (executor.Result, error)) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	stack, err := newClientStack(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := fn(ctx, stack.executor)
	return relayResult(result, err)
}
