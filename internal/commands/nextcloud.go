package commands

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

var occ = []string{"php", "occ"}

// ScanOptions selects what files:scan covers. All wins over User and Path.
// With User, Path narrows the scan to a folder inside the user's files.
// Without User, Path is a full Nextcloud path such as /alice/files/Photos.
type ScanOptions struct {
	All  bool
	User string
	Path string
}

// FilesScanArgs builds the files:scan argv.
func FilesScanArgs(opts ScanOptions) ([]string, error) {
	argv := append(append([]string{}, occ...), "files:scan")
	if opts.All {
		return append(argv, "--all"), nil
	}
	if opts.User == "" && opts.Path != "" {
		if err := checkArg("path", opts.Path); err != nil {
			return nil, err
		}
		return append(argv, "--path="+path.Join("/", opts.Path)), nil
	}
	if err := checkArg("user", opts.User); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return append(argv, opts.User), nil
	}
	if err := checkArg("path", opts.Path); err != nil {
		return nil, err
	}
	p := path.Join("/", opts.User, "files", strings.TrimPrefix(opts.Path, "/"))
	return append(argv, "--path="+p), nil
}

// MemoriesIndexArgs builds the memories:index argv. Both filters are
// optional; an empty user indexes everyone.
func MemoriesIndexArgs(user, folder string) ([]string, error) {
	argv := append(append([]string{}, occ...), "memories:index")
	if user != "" {
		if err := checkArg("user", user); err != nil {
			return nil, err
		}
		argv = append(argv, "--user="+user)
	}
	if folder != "" {
		if user == "" {
			return nil, errors.Join(ErrUnsupportedArgument, errors.New("folder requires a user"))
		}
		if err := checkArg("folder", folder); err != nil {
			return nil, err
		}
		argv = append(argv, "--folder="+folder)
	}
	return argv, nil
}

// Nextcloud runs occ maintenance commands.
type Nextcloud struct {
	runner  Runner
	service string
}

// NewNextcloud returns helpers for service; empty means "nextcloud".
func NewNextcloud(r Runner, service string) *Nextcloud {
	if service == "" {
		service = whitelist.Nextcloud
	}
	return &Nextcloud{runner: r, service: service}
}

// FilesScan rescans files so Nextcloud notices changes made on disk.
func (n *Nextcloud) FilesScan(ctx context.Context, opts ScanOptions) (executor.Result, error) {
	argv, err := FilesScanArgs(opts)
	if err != nil {
		return executor.Result{}, err
	}
	return run(ctx, n.runner, n.service, scanTimeout, argv)
}

// MemoriesIndex rebuilds the Memories app index.
func (n *Nextcloud) MemoriesIndex(ctx context.Context, user, folder string) (executor.Result, error) {
	argv, err := MemoriesIndexArgs(user, folder)
	if err != nil {
		return executor.Result{}, err
	}
	return run(ctx, n.runner, n.service, indexTimeout, argv)
}

// Status runs occ status.
func (n *Nextcloud) Status(ctx context.Context) (executor.Result, error) {
	return run(ctx, n.runner, n.service, statusTimeout, append(append([]string{}, occ...), "status"))
}
