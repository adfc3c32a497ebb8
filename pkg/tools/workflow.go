package tools

import (
	"context"
	"fmt"

	"github.com/nstogner/nbtool/pkg/workflow"
)

// RegisterWorkflow adds the multi-step tools.
func RegisterWorkflow(r *Registry, o *workflow.Orchestrator) {
	r.Register(newFunc("create_and_execute_cell",
		"Add a cell and run it if it is code, optionally backing up first and refreshing the editor after.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			var spec workflow.CellSpec
			if spec.Type, err = a.String("cell_type"); err != nil {
				return nil, err
			}
			if spec.Content, err = a.OptString("content", ""); err != nil {
				return nil, err
			}
			opts, err := workflowOptions(a, true)
			if err != nil {
				return nil, err
			}
			if opts.Index, err = a.OptInt("index"); err != nil {
				return nil, err
			}
			return o.CreateAndExecute(ctx, path, spec, opts), nil
		},
		pathParam, cellTypeParam,
		Param{Name: "content", Type: "string", Description: "Cell source."},
		Param{Name: "index", Type: "integer", Description: "Insert position (default: end)."},
		kernelParam, timeoutParam, backupParam, refreshParam))

	r.Register(newFunc("execute_with_retry",
		"Run a code cell, retrying when it fails.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			opts, err := workflowOptions(a, false)
			if err != nil {
				return nil, err
			}
			retries, err := a.OptInt("max_retries")
			if err != nil {
				return nil, err
			}
			if retries != nil {
				opts.MaxRetries = *retries
			}
			return o.ExecuteWithRetry(ctx, path, index, opts), nil
		},
		pathParam, indexParam, kernelParam, timeoutParam, refreshParam,
		Param{Name: "max_retries", Type: "integer", Description: "Total attempts (default 2)."}))

	r.Register(newFunc("batch_create_and_execute",
		"Create several cells in order, running code cells as they are added.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			var specs []workflow.CellSpec
			if err := a.Decode("cells", &specs); err != nil {
				return nil, err
			}
			for i, s := range specs {
				if s.Type == "" {
					return nil, fmt.Errorf("cells[%d]: type is required", i)
				}
			}
			opts, err := workflowOptions(a, true)
			if err != nil {
				return nil, err
			}
			if opts.StartIndex, err = a.OptInt("start_index"); err != nil {
				return nil, err
			}
			if opts.StopOnError, err = a.Bool("stop_on_error", false); err != nil {
				return nil, err
			}
			execute, err := a.Bool("execute_code_cells", true)
			if err != nil {
				return nil, err
			}
			opts.SkipExecution = !execute
			return o.BatchCreateAndExecute(ctx, path, specs, opts), nil
		},
		pathParam,
		Param{Name: "cells", Type: "array", Description: "Cells to create: [{\"type\": \"code\", \"content\": \"...\"}].", Required: true},
		Param{Name: "start_index", Type: "integer", Description: "Position of the first new cell (default: end)."},
		Param{Name: "stop_on_error", Type: "boolean", Description: "Stop at the first failing cell (default false)."},
		Param{Name: "execute_code_cells", Type: "boolean", Description: "Run code cells as they are created (default true)."},
		kernelParam, timeoutParam, backupParam, refreshParam))
}

func workflowOptions(a Args, backup bool) (workflow.Options, error) {
	var opts workflow.Options
	var err error
	if opts.Spec, err = a.OptString("kernel_name", ""); err != nil {
		return opts, err
	}
	if opts.Timeout, err = a.Seconds("timeout"); err != nil {
		return opts, err
	}
	if backup {
		if opts.AutoBackup, err = a.Bool("auto_backup", true); err != nil {
			return opts, err
		}
	}
	if opts.AutoRefresh, err = a.Bool("auto_refresh", true); err != nil {
		return opts, err
	}
	return opts, nil
}
