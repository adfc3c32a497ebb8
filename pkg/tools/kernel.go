package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/kernel"
)

// Runner is the execution surface the kernel tools need.
// *executor.Coordinator satisfies it.
type Runner interface {
	Execute(ctx context.Context, path string, index int, opts executor.Options) (*executor.Outcome, error)
	ExecuteAll(ctx context.Context, path string, opts executor.Options) (*executor.AllOutcome, error)
	Registry() *kernel.Registry
}

// KernelReport describes the kernel slot after a kernel tool ran.
type KernelReport struct {
	Message   string        `json:"message,omitempty"`
	Current   kernel.Status `json:"current_kernel"`
	Available []string      `json:"available_kernels,omitempty"`
}

// RegisterKernel adds the execution and kernel management tools.
func RegisterKernel(r *Registry, run Runner) {
	reg := run.Registry()

	r.Register(newFunc("execute_cell",
		"Run a code cell and store its outputs in the notebook.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			opts, err := execOptions(a)
			if err != nil {
				return nil, err
			}
			slog.Info("Executing cell", "path", path, "index", index)
			out, err := run.Execute(ctx, path, index, opts)
			if out == nil {
				return nil, err
			}
			if err != nil && out.Error == "" {
				out.Error = err.Error()
			}
			return out, nil
		},
		pathParam, indexParam, kernelParam, timeoutParam))

	r.Register(newFunc("execute_notebook",
		"Restart the kernel and run every code cell in order, stopping at the first failure.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			opts, err := execOptions(a)
			if err != nil {
				return nil, err
			}
			if opts.Timeout == 0 {
				opts.Timeout = 5 * time.Minute
			}
			slog.Info("Executing notebook", "path", path)
			return run.ExecuteAll(ctx, path, opts)
		},
		pathParam, kernelParam,
		Param{Name: "timeout", Type: "number", Description: "Total timeout in seconds, shared by the code cells (default 300)."}))

	r.Register(newFunc("restart_kernel",
		"Shut down the kernel and start a fresh one.",
		func(ctx context.Context, a Args) (any, error) {
			spec, err := a.OptString("kernel_name", "")
			if err != nil {
				return nil, err
			}
			if spec == "" {
				spec = reg.Current().Spec
			}
			if spec == "" {
				spec = executor.DefaultSpec
			}
			if _, err := reg.Restart(ctx, spec); err != nil {
				return nil, err
			}
			return KernelReport{Message: "Kernel restarted", Current: reg.Current()}, nil
		},
		kernelParam))

	r.Register(newFunc("interrupt_kernel",
		"Interrupt the running execution.",
		func(ctx context.Context, a Args) (any, error) {
			if err := reg.Interrupt(ctx); err != nil {
				return nil, err
			}
			return KernelReport{Message: "Kernel interrupted", Current: reg.Current()}, nil
		}))

	r.Register(newFunc("list_kernels",
		"List the installed kernelspecs and the current kernel.",
		func(ctx context.Context, a Args) (any, error) {
			specs, err := reg.ListSpecs(ctx)
			if err != nil {
				return nil, err
			}
			return KernelReport{Current: reg.Current(), Available: specs}, nil
		}))
}

func execOptions(a Args) (executor.Options, error) {
	spec, err := a.OptString("kernel_name", "")
	if err != nil {
		return executor.Options{}, err
	}
	timeout, err := a.Seconds("timeout")
	if err != nil {
		return executor.Options{}, err
	}
	return executor.Options{Spec: spec, Timeout: timeout}, nil
}
