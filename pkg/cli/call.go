package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nstogner/nbtool/pkg/tools"
)

// CallCmd returns the call command.
func CallCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Call one tool and print its JSON response",
		Long: `Call a tool by name. Arguments are a JSON object given inline,
or read from stdin when the argument is "-".

Exit status is 1 when the response reports success=false.

Examples:
  nbtool call read_notebook '{"notebook_path": "analysis.ipynb"}'
  nbtool call execute_cell '{"notebook_path": "analysis.ipynb", "cell_index": 2}'
  echo '{"directory": "."}' | nbtool call list_notebooks -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := map[string]any{}
			if len(args) == 2 {
				var err error
				if input, err = parseArguments(args[1], cmd.InOrStdin()); err != nil {
					return err
				}
			}

			app, err := openApp(os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			resp, err := app.Tools.Call(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			if err := printResponse(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if ok, _ := resp["success"].(bool); !ok {
				if !quiet {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.New(color.FgRed).Sprint("✗"), resp["error"])
				}
				return fmt.Errorf("%s failed", args[0])
			}
			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.New(color.FgGreen).Sprint("✓"), args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the JSON response")
	return cmd
}

// parseArguments decodes raw, or stdin when raw is "-", as a JSON object.
func parseArguments(raw string, stdin io.Reader) (map[string]any, error) {
	if raw == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading arguments: %w", err)
		}
		raw = string(data)
	}
	input := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return input, nil
}

func printResponse(w io.Writer, resp map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// ToolsCmd returns the tools command.
func ToolsCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(os.Stderr)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())
			printTools(cmd.OutOrStdout(), app.Tools.List(), verbose)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show each tool's parameters")
	return cmd
}

func printTools(w io.Writer, list []tools.Tool, verbose bool) {
	name := color.New(color.FgCyan, color.Bold)
	for _, t := range list {
		fmt.Fprintf(w, "%-32s %s\n", name.Sprint(t.Name()), t.Description())
		if !verbose {
			continue
		}
		props, _ := t.InputSchema()["properties"].(map[string]any)
		required := map[string]bool{}
		if req, ok := t.InputSchema()["required"].([]string); ok {
			for _, r := range req {
				required[r] = true
			}
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			marker := ""
			if required[k] {
				marker = color.New(color.FgYellow).Sprint(" (required)")
			}
			fmt.Fprintf(w, "    %s%s\n", k, marker)
		}
	}
}
