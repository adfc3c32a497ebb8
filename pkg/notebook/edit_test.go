package notebook_test

import (
	"errors"
	"testing"

	"github.com/nstogner/nbtool/pkg/notebook"
)

func intPtr(n int) *int { return &n }

func sample() *notebook.Notebook {
	nb := notebook.New("Sample")
	md := nb.NewCell(notebook.CellMarkdown, "# Sample")
	code := nb.NewCell(notebook.CellCode, "x = 1")
	code.ExecutionCount = intPtr(4)
	code.Outputs = []notebook.Output{{OutputType: notebook.OutputStream, Name: "stdout", Text: "hi\n"}}
	code.Metadata["tags"] = []any{"setup"}
	raw := nb.NewCell(notebook.CellRaw, "raw text")
	nb.Cells = []*notebook.Cell{md, code, raw}
	return nb
}

func TestNotebook_SetSourceClearsOutputs(t *testing.T) {
	nb := sample()
	if err := nb.SetSource(1, "y = 2"); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	c := nb.Cells[1]
	if c.Source != "y = 2" {
		t.Errorf("Source = %q, want %q", c.Source, "y = 2")
	}
	if len(c.Outputs) != 0 || c.ExecutionCount != nil {
		t.Errorf("outputs = %v, count = %v; want cleared", c.Outputs, c.ExecutionCount)
	}

	if err := nb.SetSource(0, "# Renamed"); err != nil {
		t.Fatalf("SetSource markdown: %v", err)
	}
	if nb.Cells[0].Outputs != nil {
		t.Errorf("markdown cell gained outputs")
	}
}

func TestNotebook_IndexErrors(t *testing.T) {
	nb := sample()
	for _, i := range []int{-1, 3, 10} {
		if _, err := nb.Cell(i); !errors.Is(err, notebook.ErrIndexOutOfRange) {
			t.Errorf("Cell(%d) = %v, want ErrIndexOutOfRange", i, err)
		}
		if err := nb.SetSource(i, "z"); !errors.Is(err, notebook.ErrIndexOutOfRange) {
			t.Errorf("SetSource(%d) = %v, want ErrIndexOutOfRange", i, err)
		}
		if _, err := nb.Delete(i); !errors.Is(err, notebook.ErrIndexOutOfRange) {
			t.Errorf("Delete(%d) = %v, want ErrIndexOutOfRange", i, err)
		}
		if err := nb.Move(0, i); !errors.Is(err, notebook.ErrIndexOutOfRange) {
			t.Errorf("Move(0, %d) = %v, want ErrIndexOutOfRange", i, err)
		}
	}
	if nb.Len() != 3 {
		t.Errorf("Len = %d after failed edits, want 3", nb.Len())
	}
}

func TestNotebook_InsertAndDelete(t *testing.T) {
	nb := sample()
	c := nb.NewCell(notebook.CellCode, "print(1)")
	if err := nb.Insert(nb.Len(), c); err != nil {
		t.Fatalf("Insert append: %v", err)
	}
	if nb.Cells[3] != c {
		t.Errorf("appended cell not at end")
	}
	if err := nb.Insert(5, c); !errors.Is(err, notebook.ErrIndexOutOfRange) {
		t.Errorf("Insert(5) = %v, want ErrIndexOutOfRange", err)
	}

	removed, err := nb.Delete(0)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.Type != notebook.CellMarkdown || nb.Len() != 3 {
		t.Errorf("Delete removed %s, Len = %d", removed.Type, nb.Len())
	}
}

func TestNotebook_Move(t *testing.T) {
	nb := sample()
	if err := nb.Move(0, 2); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got := []notebook.CellType{nb.Cells[0].Type, nb.Cells[1].Type, nb.Cells[2].Type}
	want := []notebook.CellType{notebook.CellCode, notebook.CellRaw, notebook.CellMarkdown}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Cells[%d].Type = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNotebook_DuplicateIndependentMetadata(t *testing.T) {
	nb := sample()
	idx, err := nb.Duplicate(1)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if idx != 2 || nb.Len() != 4 {
		t.Fatalf("Duplicate index = %d, Len = %d; want 2, 4", idx, nb.Len())
	}
	orig, dup := nb.Cells[1], nb.Cells[2]
	if dup.Type != orig.Type || dup.Source != orig.Source {
		t.Errorf("dup = %s/%q, want %s/%q", dup.Type, dup.Source, orig.Type, orig.Source)
	}
	if dup.ID == "" || dup.ID == orig.ID {
		t.Errorf("dup ID = %q, want fresh id distinct from %q", dup.ID, orig.ID)
	}
	if len(dup.Outputs) != 0 {
		t.Errorf("dup has %d outputs, want 0", len(dup.Outputs))
	}

	dup.Metadata["collapsed"] = true
	dup.Metadata["tags"].([]any)[0] = "changed"
	if _, ok := orig.Metadata["collapsed"]; ok {
		t.Errorf("metadata key leaked into original")
	}
	if orig.Metadata["tags"].([]any)[0] != "setup" {
		t.Errorf("nested metadata shared with duplicate")
	}
}

func TestNotebook_ChangeType(t *testing.T) {
	nb := sample()
	old, err := nb.ChangeType(1, notebook.CellMarkdown)
	if err != nil {
		t.Fatalf("ChangeType: %v", err)
	}
	c := nb.Cells[1]
	if old != notebook.CellCode || c.Type != notebook.CellMarkdown {
		t.Errorf("ChangeType = %s -> %s", old, c.Type)
	}
	if c.Outputs != nil || c.ExecutionCount != nil {
		t.Errorf("markdown cell kept outputs or count")
	}
	if c.Source != "x = 1" || c.Metadata["tags"] == nil {
		t.Errorf("source or metadata lost")
	}

	if _, err := nb.ChangeType(0, notebook.CellCode); err != nil {
		t.Fatalf("ChangeType to code: %v", err)
	}
	if nb.Cells[0].Outputs == nil {
		t.Errorf("code cell should carry an empty output list")
	}
}

func TestParseCellType(t *testing.T) {
	if ct, err := notebook.ParseCellType(" Markdown "); err != nil || ct != notebook.CellMarkdown {
		t.Errorf("ParseCellType = %q, %v", ct, err)
	}
	if _, err := notebook.ParseCellType("sql"); !errors.Is(err, notebook.ErrInvalidCellType) {
		t.Errorf("ParseCellType(sql) = %v, want ErrInvalidCellType", err)
	}
}

func TestNotebook_ClearOutputs(t *testing.T) {
	nb := sample()
	if err := nb.ClearOutputsAt(0); !errors.Is(err, notebook.ErrInvalidCell) {
		t.Errorf("ClearOutputsAt(markdown) = %v, want ErrInvalidCell", err)
	}
	if n := nb.ClearAllOutputs(); n != 1 {
		t.Errorf("ClearAllOutputs = %d, want 1", n)
	}
	if len(nb.Cells[1].Outputs) != 0 {
		t.Errorf("outputs not cleared")
	}
}
