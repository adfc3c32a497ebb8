package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/nbtool/pkg/config"
)

// configPath is bound to the persistent --config flag.
var configPath string

// RootCmd returns the nbtool command tree.
func RootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "nbtool",
		Short:   "Notebook tool server",
		Version: version,
		Long: `nbtool edits Jupyter notebooks on disk and runs their cells on a live kernel.

It exposes its operations as named tools over HTTP, from the command line
and in an interactive terminal browser.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NBTOOL_CONFIG"), "path to a TOML config file")

	root.AddCommand(ServeCmd())
	root.AddCommand(CallCmd())
	root.AddCommand(ToolsCmd())
	root.AddCommand(KernelsCmd())
	root.AddCommand(TuiCmd())
	return root
}

// loadConfig reads the config named by --config and installs a text
// logger on w at the configured level.
func loadConfig(w io.Writer) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", cfg.LogLevel)
	return cfg, nil
}

// openApp loads config and wires the application, logging to w.
func openApp(w io.Writer) (*App, error) {
	cfg, err := loadConfig(w)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("starting nbtool: %w", err)
	}
	return app, nil
}
