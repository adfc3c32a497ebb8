// Package workflow composes document edits and cell execution into the
// multi-step operations exposed as tools: create-and-run, run-with-retry
// and batch creation.
//
// Every operation returns an aggregate result rather than an error. Steps
// that completed are listed in Operations, failures in Errors.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/editor"
	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/notebook"
)

const (
	DefaultMaxRetries = 2
	DefaultRetryPause = 500 * time.Millisecond
)

// Executor runs a single code cell. *executor.Coordinator satisfies it.
type Executor interface {
	Execute(ctx context.Context, path string, index int, opts executor.Options) (*executor.Outcome, error)
}

// CellSpec describes a cell to create.
type CellSpec struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Options tune a workflow. Zero values select the defaults.
type Options struct {
	Spec    string
	Timeout time.Duration

	// Index is where CreateAndExecute inserts; nil appends.
	Index *int
	// StartIndex is where BatchCreateAndExecute inserts its first cell;
	// later cells follow it. Nil appends every cell.
	StartIndex *int

	AutoBackup    bool
	AutoRefresh   bool
	StopOnError   bool
	SkipExecution bool

	MaxRetries int
	RetryPause time.Duration
}

// Orchestrator runs workflows against one store and executor.
type Orchestrator struct {
	store    *notebook.Store
	exec     Executor
	notifier editor.Notifier
	clock    clockwork.Clock
	// backupFile copies an existing document before a workflow edits it.
	backupFile func(path string) (string, error)

	maxRetries int
	retryPause time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRetry sets the attempt count and pause used when Options leave them zero.
func WithRetry(maxRetries int, pause time.Duration) Option {
	return func(o *Orchestrator) {
		if maxRetries > 0 {
			o.maxRetries = maxRetries
		}
		if pause > 0 {
			o.retryPause = pause
		}
	}
}

// New creates an Orchestrator. A nil notifier disables editor refresh.
func New(store *notebook.Store, exec Executor, notifier editor.Notifier, opts ...Option) *Orchestrator {
	if notifier == nil {
		notifier = editor.Nop{}
	}
	o := &Orchestrator{
		store:      store,
		exec:       exec,
		notifier:   notifier,
		clock:      clockwork.NewRealClock(),
		maxRetries: DefaultMaxRetries,
		retryPause: DefaultRetryPause,
	}
	o.backupFile = o.backup
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateResult reports CreateAndExecute.
type CreateResult struct {
	Success    bool              `json:"success"`
	CellIndex  int               `json:"cell_index"`
	CellType   string            `json:"cell_type"`
	TotalCells int               `json:"total_cells"`
	BackupPath string            `json:"backup_path,omitempty"`
	Execution  *executor.Outcome `json:"execution,omitempty"`
	Operations []string          `json:"operations"`
	Errors     []string          `json:"errors"`
	Summary    string            `json:"summary"`
}

// CreateAndExecute adds a cell and, for code cells, runs it.
func (o *Orchestrator) CreateAndExecute(ctx context.Context, path string, spec CellSpec, opts Options) *CreateResult {
	res := &CreateResult{CellIndex: -1, CellType: spec.Type, Operations: []string{}, Errors: []string{}}
	fail := func(format string, args ...any) *CreateResult {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
		res.Summary = fmt.Sprintf("Failed to create %s cell: %s", spec.Type, res.Errors[len(res.Errors)-1])
		return res
	}

	t, err := notebook.ParseCellType(spec.Type)
	if err != nil {
		return fail("%v", err)
	}
	if opts.AutoBackup {
		backup, err := o.backupFile(path)
		if err != nil {
			return fail("Backup failed: %v", err)
		}
		if backup != "" {
			res.BackupPath = backup
			res.Operations = append(res.Operations, "Created backup "+backup)
		}
	}

	index, total, err := o.addCell(path, t, spec.Content, opts.Index)
	if err != nil {
		return fail("Creating cell: %v", err)
	}
	res.CellIndex, res.TotalCells = index, total
	res.Operations = append(res.Operations, fmt.Sprintf("Created %s cell at index %d", t, index))

	if t == notebook.CellCode && !opts.SkipExecution {
		out, err := o.exec.Execute(ctx, path, index, o.execOptions(opts))
		res.Execution = out
		if msg := failure(out, err); msg != "" {
			res.Errors = append(res.Errors, "Execution failed: "+msg)
		} else {
			res.Operations = append(res.Operations, fmt.Sprintf("Executed cell %d%s", index, countSuffix(out)))
		}
	}

	if opts.AutoRefresh {
		res.Operations = append(res.Operations, o.refresh(ctx, path))
	}

	res.Success = len(res.Errors) == 0
	if res.Success {
		res.Summary = fmt.Sprintf("Created %s cell at index %d", t, index)
		if res.Execution != nil {
			res.Summary += " and executed it"
		}
	} else {
		res.Summary = fmt.Sprintf("Created %s cell at index %d with errors", t, index)
	}
	return res
}

// RetryResult reports ExecuteWithRetry.
type RetryResult struct {
	Success    bool              `json:"success"`
	CellIndex  int               `json:"cell_index"`
	Attempts   int               `json:"attempts"`
	Execution  *executor.Outcome `json:"execution,omitempty"`
	Operations []string          `json:"operations"`
	Errors     []string          `json:"errors"`
	Summary    string            `json:"summary"`
}

// ExecuteWithRetry runs a cell, retrying failed executions. Only the last
// failure is reported as an error; earlier ones are listed as operations.
// Addressing and load failures are not retried.
func (o *Orchestrator) ExecuteWithRetry(ctx context.Context, path string, index int, opts Options) *RetryResult {
	res := &RetryResult{CellIndex: index, Operations: []string{}, Errors: []string{}}
	attempts := opts.MaxRetries
	if attempts <= 0 {
		attempts = o.maxRetries
	}
	pause := opts.RetryPause
	if pause <= 0 {
		pause = o.retryPause
	}

	var last string
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := o.exec.Execute(ctx, path, index, o.execOptions(opts))
		res.Attempts = attempt
		res.Execution = out

		last = failure(out, err)
		if last == "" {
			res.Success = true
			res.Operations = append(res.Operations, fmt.Sprintf("Executed cell %d on attempt %d%s", index, attempt, countSuffix(out)))
			break
		}
		if !retryable(err) || attempt == attempts {
			break
		}
		res.Operations = append(res.Operations, fmt.Sprintf("Attempt %d failed: %s", attempt, last))
		slog.Debug("Retrying cell", "path", path, "index", index, "attempt", attempt, "error", last)

		if err := o.wait(ctx, pause); err != nil {
			last = err.Error()
			break
		}
	}

	if !res.Success {
		res.Errors = append(res.Errors, fmt.Sprintf("Execution failed after %d attempt(s): %s", res.Attempts, last))
		res.Summary = fmt.Sprintf("Cell %d failed after %d attempt(s)", index, res.Attempts)
		return res
	}
	if opts.AutoRefresh {
		res.Operations = append(res.Operations, o.refresh(ctx, path))
	}
	res.Summary = fmt.Sprintf("Cell %d succeeded on attempt %d", index, res.Attempts)
	return res
}

// CellResult reports one cell of a batch.
type CellResult struct {
	Position       int      `json:"position"`
	CellIndex      int      `json:"cell_index"`
	CellType       string   `json:"cell_type"`
	Created        bool     `json:"created"`
	Executed       bool     `json:"executed"`
	Success        bool     `json:"success"`
	ExecutionCount *int     `json:"execution_count,omitempty"`
	Outputs        []string `json:"outputs,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// BatchResult reports BatchCreateAndExecute.
type BatchResult struct {
	Success        bool         `json:"success"`
	CellsRequested int          `json:"total_cells_requested"`
	CellsCreated   int          `json:"cells_created"`
	CellsExecuted  int          `json:"cells_executed"`
	StoppedEarly   bool         `json:"stopped_early"`
	BackupPath     string       `json:"backup_path,omitempty"`
	CellResults    []CellResult `json:"cell_results"`
	Operations     []string     `json:"operations"`
	Errors         []string     `json:"errors"`
	Summary        string       `json:"summary"`
}

// BatchCreateAndExecute creates cells in order, running code cells as they
// are added. With StopOnError the first failing cell ends the batch and only
// the attempted cells are reported.
func (o *Orchestrator) BatchCreateAndExecute(ctx context.Context, path string, specs []CellSpec, opts Options) *BatchResult {
	res := &BatchResult{
		CellsRequested: len(specs),
		CellResults:    []CellResult{},
		Operations:     []string{},
		Errors:         []string{},
	}

	failed := 0
	if opts.AutoBackup {
		backup, err := o.backupFile(path)
		switch {
		case err != nil:
			failed++
			res.Errors = append(res.Errors, fmt.Sprintf("Backup failed: %v", err))
			if opts.StopOnError {
				res.StoppedEarly = true
				res.Summary = "Batch aborted: backup failed"
				return res
			}
		case backup != "":
			res.BackupPath = backup
			res.Operations = append(res.Operations, "Created backup "+backup)
		}
	}

	next := -1
	if opts.StartIndex != nil {
		next = *opts.StartIndex
	}
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Batch cancelled before cell %d: %v", i, err))
			res.StoppedEarly = true
			break
		}

		cr := o.batchCell(ctx, path, i, spec, next, opts)
		res.CellResults = append(res.CellResults, cr)
		if cr.Created {
			res.CellsCreated++
			res.Operations = append(res.Operations, fmt.Sprintf("Created %s cell at index %d", cr.CellType, cr.CellIndex))
			if next >= 0 {
				next = cr.CellIndex + 1
			}
		}
		if cr.Executed {
			res.CellsExecuted++
		}
		if cr.Success {
			continue
		}
		failed++
		for _, e := range cr.Errors {
			res.Errors = append(res.Errors, fmt.Sprintf("Cell %d: %s", i, e))
		}
		if opts.StopOnError {
			res.StoppedEarly = true
			break
		}
	}

	if opts.AutoRefresh && res.CellsCreated > 0 {
		res.Operations = append(res.Operations, o.refresh(ctx, path))
	}

	res.Success = res.CellsCreated > 0 && failed == 0 && !res.StoppedEarly
	res.Summary = fmt.Sprintf("Created %d of %d cells, executed %d", res.CellsCreated, res.CellsRequested, res.CellsExecuted)
	if res.StoppedEarly {
		res.Summary += " (stopped early)"
	}
	return res
}

func (o *Orchestrator) batchCell(ctx context.Context, path string, pos int, spec CellSpec, at int, opts Options) CellResult {
	cr := CellResult{Position: pos, CellIndex: -1, CellType: spec.Type}

	t, err := notebook.ParseCellType(spec.Type)
	if err != nil {
		cr.Errors = append(cr.Errors, err.Error())
		return cr
	}
	var index *int
	if at >= 0 {
		index = &at
	}
	created, _, err := o.addCell(path, t, spec.Content, index)
	if err != nil {
		cr.Errors = append(cr.Errors, "Creating cell: "+err.Error())
		return cr
	}
	cr.Created = true
	cr.CellIndex = created

	if t == notebook.CellCode && !opts.SkipExecution {
		out, err := o.exec.Execute(ctx, path, created, o.execOptions(opts))
		if out != nil {
			cr.Executed = true
			cr.ExecutionCount = out.ExecutionCount
			cr.Outputs = out.Summaries
		}
		if msg := failure(out, err); msg != "" {
			cr.Errors = append(cr.Errors, "Execution failed: "+msg)
		}
	}
	cr.Success = len(cr.Errors) == 0
	return cr
}

// addCell inserts a cell and saves, returning its index and the new cell count.
func (o *Orchestrator) addCell(path string, t notebook.CellType, source string, index *int) (int, int, error) {
	nb, err := o.store.Load(path)
	if err != nil {
		return 0, 0, err
	}
	at := nb.Len()
	if index != nil {
		at = *index
	}
	if err := nb.Insert(at, nb.NewCell(t, source)); err != nil {
		return 0, 0, err
	}
	if _, err := o.store.Save(nb, path); err != nil {
		return 0, 0, err
	}
	return at, nb.Len(), nil
}

// backup copies path if it exists. A missing file is not an error.
func (o *Orchestrator) backup(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return o.store.Backup(path)
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}

func (o *Orchestrator) refresh(ctx context.Context, path string) string {
	if editor.Refresh(ctx, o.notifier, path) {
		return "Refreshed editor"
	}
	return "Editor refresh failed"
}

func (o *Orchestrator) execOptions(opts Options) executor.Options {
	return executor.Options{Spec: opts.Spec, Timeout: opts.Timeout}
}

// failure describes why an execution did not succeed, or returns "".
func failure(out *executor.Outcome, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case out == nil:
		return "no result"
	case !out.Success && out.Error != "":
		return out.Error
	case !out.Success:
		return "cell did not complete"
	}
	return ""
}

func retryable(err error) bool {
	return !errors.Is(err, notebook.ErrDocumentLoad) &&
		!errors.Is(err, notebook.ErrIndexOutOfRange) &&
		!errors.Is(err, notebook.ErrInvalidCell)
}

func countSuffix(out *executor.Outcome) string {
	if out == nil || out.ExecutionCount == nil {
		return ""
	}
	return fmt.Sprintf(" (execution count %d)", *out.ExecutionCount)
}
