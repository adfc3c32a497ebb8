package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/kernel/kerneltest"
	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/service"
)

func newTestModel(t *testing.T) (model, string) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	store := notebook.NewStore(notebook.WithClock(clk))
	coord := executor.New(kernel.NewRegistry(&kerneltest.Launcher{Clock: clk}, time.Second), store, executor.WithClock(clk))

	dir := t.TempDir()
	path := filepath.Join(dir, "demo.ipynb")
	nb := notebook.New("Demo")
	nb.Cells = append(nb.Cells,
		nb.NewCell(notebook.CellMarkdown, "# Demo"),
		nb.NewCell(notebook.CellCode, "print('hi')"),
	)
	if _, err := store.Save(nb, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return newModel(context.Background(), service.New(store), coord, dir), path
}

// step feeds msg to m and returns the updated model.
func step(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func press(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowseAndOpen(t *testing.T) {
	m, path := newTestModel(t)

	m = step(t, m, m.listNotebooks()())
	if m.state != stateBrowsing || len(m.notebooks) != 1 {
		t.Fatalf("state = %v, notebooks = %v", m.state, m.notebooks)
	}
	if !strings.Contains(m.View(), "demo.ipynb") {
		t.Errorf("browser view missing notebook:\n%s", m.View())
	}

	m = step(t, m, m.openNotebook(path)())
	if m.state != stateNotebook || m.path != path {
		t.Fatalf("state = %v, path = %q", m.state, m.path)
	}
	if len(m.doc.Cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(m.doc.Cells))
	}
	content, _ := m.renderCells()
	if !strings.Contains(content, "print('hi')") || !strings.Contains(content, "In [ ]:") {
		t.Errorf("rendered cells missing code cell:\n%s", content)
	}

	m = step(t, m, press("b"))
	if m.state != stateBrowsing || m.doc != nil {
		t.Errorf("after back: state = %v", m.state)
	}
}

func TestExecuteSelectedCell(t *testing.T) {
	m, path := newTestModel(t)
	m = step(t, m, m.openNotebook(path)())

	// The heading cell is markdown and is not run.
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.busy || !strings.Contains(m.status, "not a code cell") {
		t.Errorf("status = %q, busy = %v", m.status, m.busy)
	}

	m.cursor = 1
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if !m.busy || m.running != 1 || cmd == nil {
		t.Fatalf("busy = %v, running = %d", m.busy, m.running)
	}

	m = step(t, m, m.execute(1)())
	if m.busy || m.err != nil || !strings.HasPrefix(m.status, "Cell 1 finished") {
		t.Errorf("status = %q, err = %v", m.status, m.err)
	}

	m = step(t, m, m.openNotebook(path)())
	if got := m.doc.Cells[1].ExecutionCount; got == nil || *got != 1 {
		t.Errorf("ExecutionCount = %v, want 1", got)
	}

	// A live kernel makes quitting ask first.
	m = step(t, m, press("q"))
	if m.state != stateConfirmExit {
		t.Fatalf("state = %v, want confirm", m.state)
	}
	m = step(t, m, press("n"))
	if m.state != stateNotebook {
		t.Errorf("state after n = %v", m.state)
	}
}

func TestEditCell(t *testing.T) {
	m, path := newTestModel(t)
	m = step(t, m, m.openNotebook(path)())
	m.cursor = 1

	m = step(t, m, press("e"))
	if m.state != stateEditing || m.textarea.Value() != "print('hi')" {
		t.Fatalf("state = %v, editor = %q", m.state, m.textarea.Value())
	}

	m = step(t, m, m.saveCell(1, "print('bye')")())
	if got := m.doc.Cells[1].Source; got != "print('bye')" {
		t.Errorf("source = %q", got)
	}

	m = step(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.state != stateNotebook {
		t.Errorf("state after esc = %v", m.state)
	}
}

func TestQuitWithoutKernel(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := m.Update(press("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q did not quit")
	}
}
