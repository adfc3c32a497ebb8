package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/nstogner/nbtool/pkg/notebook"
)

// AllOutcome reports a whole-notebook run.
type AllOutcome struct {
	Success   bool       `json:"success"`
	CodeCells int        `json:"code_cells"`
	Executed  int        `json:"executed_cells"`
	Results   []*Outcome `json:"results"`
	Error     string     `json:"error,omitempty"`
}

// ExecuteAll restarts the kernel for a clean namespace and runs every code
// cell in order, stopping at the first cell that does not succeed. The
// timeout in opts is shared evenly between the code cells.
//
// The returned error is only set when the run could not begin (the document
// failed to load or the kernel did not start); per-cell failures are
// reported in the outcome.
func (c *Coordinator) ExecuteAll(ctx context.Context, path string, opts Options) (*AllOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts = c.withDefaults(opts)

	nb, err := c.store.Load(path)
	if err != nil {
		return nil, err
	}
	var indices []int
	for i, cell := range nb.Cells {
		if cell.Type == notebook.CellCode {
			indices = append(indices, i)
		}
	}

	res := &AllOutcome{CodeCells: len(indices), Results: []*Outcome{}}
	if len(indices) == 0 {
		res.Success = true
		return res, nil
	}

	if _, err := c.registry.Restart(ctx, opts.Spec); err != nil {
		return nil, err
	}

	perCell := opts.Timeout / time.Duration(len(indices))
	for _, i := range indices {
		out, err := c.execute(ctx, path, i, Options{Spec: opts.Spec, Timeout: perCell, OnOutput: opts.OnOutput})
		if out != nil {
			res.Results = append(res.Results, out)
			res.Executed++
		}
		if err != nil {
			res.Error = fmt.Sprintf("cell %d: %v", i, err)
			return res, nil
		}
		if !out.Success {
			res.Error = fmt.Sprintf("cell %d: %s", i, out.Error)
			return res, nil
		}
	}
	res.Success = true
	return res, nil
}
