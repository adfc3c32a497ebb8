package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/nbtool/pkg/tui"
)

// TuiCmd returns the tui command.
func TuiCmd() *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui [directory|notebook.ipynb]",
		Short: "Browse, edit and run notebooks in the terminal",
		Long: `Open an interactive notebook browser.

Logs go to a file because the terminal is owned by the UI.

Examples:
  nbtool tui
  nbtool tui notebooks/
  nbtool tui analysis.ipynb --log nbtool.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}

			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()

			app, err := openApp(f)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			return tui.Run(cmd.Context(), app.Documents, app.Coordinator, target)
		},
	}
	cmd.Flags().StringVar(&logFile, "log", "nbtool.log", "file to write logs to")
	return cmd
}
