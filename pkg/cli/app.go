// Package cli implements the nbtool command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nstogner/nbtool/pkg/config"
	"github.com/nstogner/nbtool/pkg/editor"
	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/export"
	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/kernel/docker"
	"github.com/nstogner/nbtool/pkg/kernel/jupyter"
	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/service"
	"github.com/nstogner/nbtool/pkg/tools"
	"github.com/nstogner/nbtool/pkg/workflow"
)

// App holds the wired components shared by every command.
type App struct {
	Config      config.Config
	Store       *notebook.Store
	Documents   *service.Service
	Coordinator *executor.Coordinator
	Tools       *tools.Registry

	closers []io.Closer
}

// newLauncher picks the kernel backend named by the config.
func newLauncher(cfg config.Config) (kernel.Launcher, io.Closer, error) {
	switch cfg.Kernel.Launcher {
	case config.LauncherDocker:
		l, err := docker.New(cfg.Kernel.DockerImage, cfg.Kernel.DockerSpecs)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		c, err := jupyter.NewClient(cfg.Kernel.JupyterURL, cfg.Kernel.JupyterToken)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}
}

// NewApp builds the store, kernel registry, coordinator and tool surface.
func NewApp(cfg config.Config) (*App, error) {
	launcher, closer, err := newLauncher(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s launcher: %w", cfg.Kernel.Launcher, err)
	}

	store := notebook.NewStore()
	reg := kernel.NewRegistry(launcher, cfg.Kernel.StartupTimeout)
	coord := executor.New(reg, store,
		executor.WithPollInterval(cfg.Execution.PollInterval),
		executor.WithDefaults(cfg.Kernel.DefaultSpec, cfg.Execution.Timeout),
	)
	docs := service.New(store)
	flows := workflow.New(store, coord, editor.New(cfg.Editor.Command),
		workflow.WithRetry(cfg.Execution.MaxRetries, cfg.Execution.RetryPause),
	)

	app := &App{
		Config:      cfg,
		Store:       store,
		Documents:   docs,
		Coordinator: coord,
		Tools: tools.NewDefault(tools.Backends{
			Documents: docs,
			Runner:    coord,
			Exporter:  export.New(store, cfg.Nbconvert),
			Workflows: flows,
		}),
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	slog.Debug("Application wired", "launcher", cfg.Kernel.Launcher, "default_spec", cfg.Kernel.DefaultSpec)
	return app, nil
}

// Close shuts down the running kernel and releases launcher resources.
func (a *App) Close(ctx context.Context) {
	if err := a.Coordinator.Registry().Shutdown(ctx); err != nil {
		slog.Warn("Kernel shutdown failed", "error", err)
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close launcher", "error", err)
		}
	}
}
