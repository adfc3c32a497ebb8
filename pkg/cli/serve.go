package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/nbtool/pkg/server"
)

const shutdownGrace = 10 * time.Second

// ServeCmd returns the serve command.
func ServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool API over HTTP",
		Long: `Serve every notebook tool over HTTP.

Routes:
  GET  /healthz            liveness
  GET  /metrics            Prometheus metrics
  GET  /api/tools          tool catalog with input schemas
  POST /api/tools/{name}   call a tool with a JSON object body
  GET  /api/kernel         kernel slot and available kernelspecs
  GET  /api/execute        websocket streaming cell outputs

Examples:
  nbtool serve
  nbtool serve --addr 0.0.0.0:8765 --config nbtool.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(os.Stderr)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = app.Config.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(app.Tools, app.Coordinator)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				slog.Info("Shutting down")
				shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				err = srv.Shutdown(shutCtx)
				if errors.Is(err, context.DeadlineExceeded) {
					slog.Warn("Requests still in flight at shutdown")
				}
			}
			app.Close(context.Background())
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
