package commands

import (
	"context"

	"github.com/nextprism/swarmproxy/internal/executor"
	"github.com/nextprism/swarmproxy/internal/whitelist"
)

// IndexArgs builds `photoprism index [--cleanup] [path]`.
func IndexArgs(path string, cleanup bool) ([]string, error) {
	argv := []string{"photoprism", "index"}
	if cleanup {
		argv = append(argv, "--cleanup")
	}
	if path != "" {
		if err := checkArg("path", path); err != nil {
			return nil, err
		}
		argv = append(argv, path)
	}
	return argv, nil
}

// ImportArgs builds `photoprism import [--move] [path]`.
func ImportArgs(path string, move bool) ([]string, error) {
	argv := []string{"photoprism", "import"}
	if move {
		argv = append(argv, "--move")
	}
	if path != "" {
		if err := checkArg("path", path); err != nil {
			return nil, err
		}
		argv = append(argv, path)
	}
	return argv, nil
}

// PhotoPrism runs photoprism CLI maintenance commands.
type PhotoPrism struct {
	runner  Runner
	service string
}

// NewPhotoPrism returns helpers for service; empty means "photoprism".
func NewPhotoPrism(r Runner, service string) *PhotoPrism {
	if service == "" {
		service = whitelist.PhotoPrism
	}
	return &PhotoPrism{runner: r, service: service}
}

// Index indexes originals, optionally below path only.
func (p *PhotoPrism) Index(ctx context.Context, path string, cleanup bool) (executor.Result, error) {
	argv, err := IndexArgs(path, cleanup)
	if err != nil {
		return executor.Result{}, err
	}
	return run(ctx, p.runner, p.service, indexTimeout, argv)
}

// Import imports from the import folder, or path when given.
func (p *PhotoPrism) Import(ctx context.Context, path string, move bool) (executor.Result, error) {
	argv, err := ImportArgs(path, move)
	if err != nil {
		return executor.Result{}, err
	}
	return run(ctx, p.runner, p.service, indexTimeout, argv)
}

// Status runs photoprism status.
func (p *PhotoPrism) Status(ctx context.Context) (executor.Result, error) {
	return run(ctx, p.runner, p.service, statusTimeout, []string{"photoprism", "status"})
}
