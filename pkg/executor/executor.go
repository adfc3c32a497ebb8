// Package executor runs notebook code cells against the registry's kernel
// and writes what the kernel produced back into the document.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/metrics"
	"github.com/nstogner/nbtool/pkg/notebook"
)

// ErrExecutionTimeout means the kernel did not report idle within the timeout.
var ErrExecutionTimeout = errors.New("execution timed out")

const (
	DefaultSpec         = "python3"
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	minPollWait         = time.Millisecond
)

// Options control one execution.
type Options struct {
	// Spec is the kernelspec to run under. Empty uses the coordinator default.
	Spec string
	// Timeout bounds the whole drain loop. Zero uses the coordinator default.
	Timeout time.Duration
	// OnOutput, if set, is called for each output as it arrives.
	OnOutput func(notebook.Output)
}

// Outcome describes one cell execution.
type Outcome struct {
	CellIndex      int               `json:"cell_index"`
	Success        bool              `json:"success"`
	Completed      bool              `json:"completed"`
	TimedOut       bool              `json:"timed_out,omitempty"`
	ExecutionCount *int              `json:"execution_count"`
	Summaries      []string          `json:"outputs"`
	Error          string            `json:"error,omitempty"`
	Duration       time.Duration     `json:"-"`
	Outputs        []notebook.Output `json:"-"`
}

// Coordinator executes cells one at a time.
type Coordinator struct {
	registry *kernel.Registry
	store    *notebook.Store
	clock    clockwork.Clock

	pollInterval   time.Duration
	defaultSpec    string
	defaultTimeout time.Duration

	// mu serializes drain loops against the shared kernel.
	mu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithPollInterval sets the per-poll wait of the drain loop.
func WithPollInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.pollInterval = d
		}
	}
}

// WithDefaults sets the spec and timeout used when Options leave them empty.
func WithDefaults(spec string, timeout time.Duration) Option {
	return func(co *Coordinator) {
		if spec != "" {
			co.defaultSpec = spec
		}
		if timeout > 0 {
			co.defaultTimeout = timeout
		}
	}
}

// New creates a Coordinator.
func New(reg *kernel.Registry, store *notebook.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:       reg,
		store:          store,
		clock:          clockwork.NewRealClock(),
		pollInterval:   DefaultPollInterval,
		defaultSpec:    DefaultSpec,
		defaultTimeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Registry returns the kernel registry the coordinator executes against.
func (c *Coordinator) Registry() *kernel.Registry { return c.registry }

// Execute runs the code cell at index and saves the document.
//
// A nil Outcome means nothing was executed: the document could not be
// loaded, the index was invalid, or the kernel failed to start. Otherwise the
// document has been saved with whatever the kernel produced, and the error
// (if any) reports a timeout or a failed save.
func (c *Coordinator) Execute(ctx context.Context, path string, index int, opts Options) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute(ctx, path, index, c.withDefaults(opts))
}

func (c *Coordinator) execute(ctx context.Context, path string, index int, opts Options) (*Outcome, error) {
	nb, err := c.store.Load(path)
	if err != nil {
		return nil, err
	}
	cell, err := nb.CodeCell(index)
	if err != nil {
		return nil, err
	}

	sess, err := c.registry.Ensure(ctx, opts.Spec)
	if err != nil {
		metrics.RecordCellExecution("failed", 0)
		return nil, err
	}

	out, runErr := c.run(ctx, sess, cell, opts)
	out.CellIndex = index
	recordOutcome(out)

	if _, err := c.store.Save(nb, path); err != nil {
		out.Success = false
		return out, errors.Join(runErr, err)
	}
	return out, runErr
}

func (c *Coordinator) run(ctx context.Context, sess kernel.Session, cell *notebook.Cell, opts Options) (*Outcome, error) {
	out := &Outcome{Summaries: []string{}}
	cell.ClearOutputs()

	start := c.clock.Now()
	exec, err := sess.Execute(ctx, cell.Source)
	if err != nil {
		out.Error = err.Error()
		return out, fmt.Errorf("submitting cell: %w", err)
	}
	defer exec.Close()

	var runErr error
	errored := false
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		elapsed := c.clock.Since(start)
		if elapsed > opts.Timeout {
			out.TimedOut = true
			runErr = fmt.Errorf("%w after %s", ErrExecutionTimeout, opts.Timeout)
			break
		}

		msg, err := exec.Poll(ctx, c.pollWait(opts.Timeout-elapsed))
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("Kernel poll failed", "session", sess.ID(), "error", err)
			}
			continue
		}
		if msg == nil {
			continue
		}

		o, done := c.handle(msg, out)
		if o != nil {
			if o.OutputType == notebook.OutputError && !errored {
				errored = true
				out.Error = o.EName + ": " + o.EValue
			}
			cell.Outputs = append(cell.Outputs, *o)
			out.Outputs = append(out.Outputs, *o)
			out.Summaries = append(out.Summaries, notebook.Summarize(*o))
			if opts.OnOutput != nil {
				opts.OnOutput(*o)
			}
		}
		if done {
			out.Completed = true
			break
		}
	}

	cell.ExecutionCount = out.ExecutionCount
	out.Duration = c.clock.Since(start)
	out.Success = out.Completed && !errored
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out, runErr
}

// handle classifies one kernel message. It returns the output to append, if
// any, and whether the kernel reported idle.
func (c *Coordinator) handle(msg *kernel.Message, out *Outcome) (*notebook.Output, bool) {
	switch msg.Type() {
	case kernel.MsgExecuteInput:
		var in kernel.ExecuteInput
		if err := msg.DecodeContent(&in); err != nil {
			slog.Warn("Skipping malformed kernel message", "error", err)
			return nil, false
		}
		n := in.ExecutionCount
		out.ExecutionCount = &n

	case kernel.MsgStream:
		var st kernel.Stream
		if err := msg.DecodeContent(&st); err != nil {
			slog.Warn("Skipping malformed kernel message", "error", err)
			return nil, false
		}
		return &notebook.Output{OutputType: notebook.OutputStream, Name: st.Name, Text: st.Text}, false

	case kernel.MsgDisplayData, kernel.MsgExecuteResult:
		var dd kernel.DisplayData
		if err := msg.DecodeContent(&dd); err != nil {
			slog.Warn("Skipping malformed kernel message", "error", err)
			return nil, false
		}
		o := &notebook.Output{OutputType: msg.Type(), Data: dd.Data, Metadata: dd.Metadata}
		if msg.Type() == kernel.MsgExecuteResult {
			o.ExecutionCount = dd.ExecutionCount
			if out.ExecutionCount == nil && dd.ExecutionCount != nil {
				n := *dd.ExecutionCount
				out.ExecutionCount = &n
			}
		}
		return o, false

	case kernel.MsgError:
		var e kernel.Error
		if err := msg.DecodeContent(&e); err != nil {
			slog.Warn("Skipping malformed kernel message", "error", err)
			return nil, false
		}
		return &notebook.Output{
			OutputType: notebook.OutputError,
			EName:      e.EName,
			EValue:     e.EValue,
			Traceback:  e.Traceback,
		}, false

	case kernel.MsgStatus:
		var st kernel.StatusContent
		if err := msg.DecodeContent(&st); err != nil {
			slog.Warn("Skipping malformed kernel message", "error", err)
			return nil, false
		}
		return nil, st.ExecutionState == kernel.ExecutionIdle
	}
	return nil, false
}

func (c *Coordinator) pollWait(remaining time.Duration) time.Duration {
	wait := c.pollInterval
	if remaining < wait {
		wait = remaining
	}
	if wait < minPollWait {
		wait = minPollWait
	}
	return wait
}

func (c *Coordinator) withDefaults(opts Options) Options {
	if opts.Spec == "" {
		opts.Spec = c.defaultSpec
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.defaultTimeout
	}
	return opts
}

func recordOutcome(out *Outcome) {
	outcome := "ok"
	switch {
	case out.TimedOut:
		outcome = "timeout"
	case !out.Completed:
		outcome = "failed"
	case !out.Success:
		outcome = "error"
	}
	metrics.RecordCellExecution(outcome, out.Duration)
}
