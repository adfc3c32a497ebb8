package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/kernel/kerneltest"
	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/workflow"
)

// failOnRaise echoes code unless it contains "raise", which reports an error.
func failOnRaise(code string, n int) []kerneltest.Step {
	if strings.Contains(code, "raise") {
		return []kerneltest.Step{kerneltest.Busy(), kerneltest.Input(n), kerneltest.Fail("RuntimeError", "boom"), kerneltest.Idle()}
	}
	return kerneltest.Echo(code, n)
}

type recordingNotifier struct {
	paths []string
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, path string) error {
	r.paths = append(r.paths, path)
	return r.err
}

type fixture struct {
	orch     *workflow.Orchestrator
	store    *notebook.Store
	notifier *recordingNotifier
	path     string
}

func newFixture(t *testing.T, exec workflow.Executor) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClock()
	store := notebook.NewStore(notebook.WithClock(clk))
	if exec == nil {
		l := &kerneltest.Launcher{Script: failOnRaise, Clock: clk}
		exec = executor.New(kernel.NewRegistry(l, time.Second), store,
			executor.WithClock(clk), executor.WithDefaults("python3", 5*time.Second))
	}

	nb := notebook.New("Workflow")
	nb.Cells = append(nb.Cells, nb.NewCell(notebook.CellMarkdown, "# Workflow"))
	path := filepath.Join(t.TempDir(), "wf.ipynb")
	if _, err := store.Save(nb, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n := &recordingNotifier{}
	orch := workflow.New(store, exec, n, workflow.WithRetry(2, time.Millisecond))
	return &fixture{orch: orch, store: store, notifier: n, path: path}
}

func (f *fixture) load(t *testing.T) *notebook.Notebook {
	t.Helper()
	nb, err := f.store.Load(f.path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return nb
}

func TestCreateAndExecute(t *testing.T) {
	f := newFixture(t, nil)

	res := f.orch.CreateAndExecute(context.Background(), f.path,
		workflow.CellSpec{Type: "code", Content: "print(1)"},
		workflow.Options{AutoBackup: true, AutoRefresh: true})
	if !res.Success {
		t.Fatalf("Success = false, errors: %v", res.Errors)
	}
	if res.CellIndex != 1 || res.TotalCells != 2 {
		t.Errorf("CellIndex = %d, TotalCells = %d; want 1, 2", res.CellIndex, res.TotalCells)
	}
	if res.BackupPath == "" {
		t.Errorf("no backup recorded")
	}
	if res.Execution == nil || len(res.Execution.Summaries) != 1 || res.Execution.Summaries[0] != "print(1)\n" {
		t.Errorf("Execution = %+v", res.Execution)
	}
	if len(f.notifier.paths) != 1 {
		t.Errorf("notifier called %d times, want 1", len(f.notifier.paths))
	}

	c, err := f.load(t).Cell(1)
	if err != nil {
		t.Fatalf("Cell: %v", err)
	}
	if c.ExecutionCount == nil || *c.ExecutionCount != 1 || len(c.Outputs) != 1 {
		t.Errorf("saved cell = %+v", c)
	}
}

func TestCreateAndExecute_MarkdownIsNotExecuted(t *testing.T) {
	f := newFixture(t, nil)
	zero := 0

	res := f.orch.CreateAndExecute(context.Background(), f.path,
		workflow.CellSpec{Type: "markdown", Content: "intro"},
		workflow.Options{Index: &zero})
	if !res.Success || res.Execution != nil {
		t.Fatalf("res = %+v", res)
	}
	c, _ := f.load(t).Cell(0)
	if c.Type != notebook.CellMarkdown || c.Source != "intro" {
		t.Errorf("cell 0 = %+v", c)
	}
}

func TestCreateAndExecute_Failures(t *testing.T) {
	t.Run("invalid type", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.CreateAndExecute(context.Background(), f.path, workflow.CellSpec{Type: "heading"}, workflow.Options{})
		if res.Success || len(res.Errors) != 1 || res.CellIndex != -1 {
			t.Errorf("res = %+v", res)
		}
		if f.load(t).Len() != 1 {
			t.Errorf("cell was created")
		}
	})

	t.Run("execution error keeps the cell", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.CreateAndExecute(context.Background(), f.path,
			workflow.CellSpec{Type: "code", Content: "raise RuntimeError('boom')"}, workflow.Options{})
		if res.Success {
			t.Fatalf("Success = true")
		}
		if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "RuntimeError: boom") {
			t.Errorf("Errors = %v", res.Errors)
		}
		if f.load(t).Len() != 2 {
			t.Errorf("cell was not kept")
		}
	})

	t.Run("refresh failure is not fatal", func(t *testing.T) {
		f := newFixture(t, nil)
		f.notifier.err = errors.New("no editor")
		res := f.orch.CreateAndExecute(context.Background(), f.path,
			workflow.CellSpec{Type: "code", Content: "x = 1"}, workflow.Options{AutoRefresh: true})
		if !res.Success {
			t.Errorf("Success = false, errors: %v", res.Errors)
		}
		if got := res.Operations[len(res.Operations)-1]; got != "Editor refresh failed" {
			t.Errorf("last operation = %q", got)
		}
	})
}

// scriptedExecutor returns canned results in order.
type scriptedExecutor struct {
	results []result
	calls   int
}

type result struct {
	out *executor.Outcome
	err error
}

func (s *scriptedExecutor) Execute(ctx context.Context, path string, index int, opts executor.Options) (*executor.Outcome, error) {
	r := s.results[s.calls]
	s.calls++
	return r.out, r.err
}

func TestExecuteWithRetry(t *testing.T) {
	ok := &executor.Outcome{Success: true, Completed: true}
	bad := &executor.Outcome{Completed: true, Error: "ValueError: flaky"}

	cases := map[string]struct {
		results     []result
		wantSuccess bool
		wantCalls   int
	}{
		"first attempt": {
			results:     []result{{out: ok}},
			wantSuccess: true,
			wantCalls:   1,
		},
		"second attempt": {
			results:     []result{{out: bad}, {out: ok}},
			wantSuccess: true,
			wantCalls:   2,
		},
		"both fail": {
			results:   []result{{out: bad}, {out: bad}},
			wantCalls: 2,
		},
		"invalid index is not retried": {
			results:   []result{{err: notebook.ErrIndexOutOfRange}},
			wantCalls: 1,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			exec := &scriptedExecutor{results: c.results}
			f := newFixture(t, exec)

			res := f.orch.ExecuteWithRetry(context.Background(), f.path, 1, workflow.Options{})
			if res.Success != c.wantSuccess {
				t.Errorf("Success = %v, want %v (errors %v)", res.Success, c.wantSuccess, res.Errors)
			}
			if exec.calls != c.wantCalls || res.Attempts != c.wantCalls {
				t.Errorf("calls = %d, Attempts = %d; want %d", exec.calls, res.Attempts, c.wantCalls)
			}
			if c.wantSuccess && len(res.Errors) != 0 {
				t.Errorf("Errors = %v, want none", res.Errors)
			}
			if !c.wantSuccess && len(res.Errors) != 1 {
				t.Errorf("Errors = %v, want exactly one", res.Errors)
			}
		})
	}
}

func TestBatchCreateAndExecute(t *testing.T) {
	specs := []workflow.CellSpec{
		{Type: "code", Content: "a = 1"},
		{Type: "code", Content: "raise RuntimeError('boom')"},
		{Type: "markdown", Content: "notes"},
		{Type: "code", Content: "c = 3"},
		{Type: "code", Content: "d = 4"},
	}

	t.Run("stop on error", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.BatchCreateAndExecute(context.Background(), f.path, specs, workflow.Options{StopOnError: true})
		if res.Success || !res.StoppedEarly {
			t.Errorf("Success = %v, StoppedEarly = %v", res.Success, res.StoppedEarly)
		}
		if res.CellsRequested != 5 || res.CellsCreated != 2 || res.CellsExecuted != 2 {
			t.Errorf("counts = %d/%d/%d, want 5/2/2", res.CellsRequested, res.CellsCreated, res.CellsExecuted)
		}
		if len(res.CellResults) != 2 {
			t.Fatalf("len(CellResults) = %d, want 2", len(res.CellResults))
		}
		if !res.CellResults[0].Success || res.CellResults[1].Success {
			t.Errorf("per-cell success = %v, %v", res.CellResults[0].Success, res.CellResults[1].Success)
		}
		if f.load(t).Len() != 3 {
			t.Errorf("document has %d cells, want 3", f.load(t).Len())
		}
	})

	t.Run("continue past errors", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.BatchCreateAndExecute(context.Background(), f.path, specs, workflow.Options{AutoRefresh: true})
		if res.Success || res.StoppedEarly {
			t.Errorf("Success = %v, StoppedEarly = %v", res.Success, res.StoppedEarly)
		}
		if res.CellsCreated != 5 || res.CellsExecuted != 4 || len(res.CellResults) != 5 {
			t.Errorf("created %d executed %d results %d", res.CellsCreated, res.CellsExecuted, len(res.CellResults))
		}
		if len(res.Errors) != 1 {
			t.Errorf("Errors = %v", res.Errors)
		}
		if len(f.notifier.paths) != 1 {
			t.Errorf("notifier called %d times, want 1", len(f.notifier.paths))
		}
	})

	t.Run("start index keeps order", func(t *testing.T) {
		f := newFixture(t, nil)
		zero := 0
		res := f.orch.BatchCreateAndExecute(context.Background(), f.path, []workflow.CellSpec{
			{Type: "markdown", Content: "first"},
			{Type: "markdown", Content: "second"},
		}, workflow.Options{StartIndex: &zero})
		if !res.Success {
			t.Fatalf("errors: %v", res.Errors)
		}
		nb := f.load(t)
		var got []string
		for _, c := range nb.Cells {
			got = append(got, c.Source)
		}
		want := []string{"first", "second", "# Workflow"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("sources = %q, want %q", got, want)
		}
	})

	t.Run("skip execution", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.BatchCreateAndExecute(context.Background(), f.path, specs, workflow.Options{SkipExecution: true})
		if !res.Success || res.CellsExecuted != 0 || res.CellsCreated != 5 {
			t.Errorf("res = %+v", res)
		}
	})

	t.Run("empty batch is not a success", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.orch.BatchCreateAndExecute(context.Background(), f.path, nil, workflow.Options{})
		if res.Success {
			t.Errorf("Success = true for an empty batch")
		}
	})
}
