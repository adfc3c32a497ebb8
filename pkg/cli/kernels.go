package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// KernelsCmd returns the kernels command.
func KernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernels",
		Short: "List the kernelspecs the configured launcher offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			specs, err := app.Coordinator.Registry().ListSpecs(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Launcher: %s\n", app.Config.Kernel.Launcher)
			for _, s := range specs {
				marker := " "
				if s == app.Config.Kernel.DefaultSpec {
					marker = color.New(color.FgGreen).Sprint("*")
				}
				fmt.Fprintf(w, "  %s %s\n", marker, s)
			}
			return nil
		},
	}
}
