package service_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/service"
)

func newService(t *testing.T) (*service.Service, string) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.New(notebook.NewStore(notebook.WithClock(clk)), service.WithClock(clk))
	return svc, t.TempDir()
}

// seed writes a notebook with a markdown cell and the given code cells.
func seed(t *testing.T, svc *service.Service, path string, code ...string) {
	t.Helper()
	nb := notebook.New("Seeded")
	nb.Cells = append(nb.Cells, nb.NewCell(notebook.CellMarkdown, "# Seeded\nSome analysis notes"))
	for i, src := range code {
		c := nb.NewCell(notebook.CellCode, src)
		n := i + 1
		c.ExecutionCount = &n
		c.Outputs = []notebook.Output{{OutputType: notebook.OutputStream, Name: "stdout", Text: "out\n"}}
		nb.Cells = append(nb.Cells, c)
	}
	if _, err := svc.Store().Save(nb, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestCreateAndRead(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "sub", "new.ipynb")

	created, err := svc.Create(path, "Analysis")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CellsCount != 2 || created.BackupPath != "" {
		t.Errorf("Create = %+v", created)
	}

	doc, err := svc.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Nbformat != 4 || doc.CellsCount != 2 {
		t.Errorf("nbformat = %d, cells = %d", doc.Nbformat, doc.CellsCount)
	}
	if doc.Metadata["title"] != "Analysis" {
		t.Errorf("title = %v", doc.Metadata["title"])
	}
	if doc.Cells[0].Source != "# Analysis" || doc.Cells[1].CellType != notebook.CellCode || doc.Cells[1].Source != "" {
		t.Errorf("cells = %+v", doc.Cells)
	}
}

func TestList(t *testing.T) {
	svc, dir := newService(t)
	seed(t, svc, filepath.Join(dir, "b.ipynb"), "x = 1")
	if _, err := svc.Create(filepath.Join(dir, "a.ipynb"), "Alpha"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.ipynb"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names, titles []string
	for _, e := range res.Notebooks {
		names = append(names, e.Name)
		titles = append(titles, e.Title)
	}
	if diff := cmp.Diff([]string{"a.ipynb", "b.ipynb"}, names); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Alpha", "Seeded"}, titles); diff != "" {
		t.Errorf("titles (-want +got):\n%s", diff)
	}

	if _, err := svc.List(filepath.Join(dir, "missing")); err == nil {
		t.Errorf("List of missing directory succeeded")
	}
}

func TestMetadata(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "m.ipynb")
	seed(t, svc, path, "a = 1", "b = 2")

	st, err := svc.Metadata(path)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	want := map[string]int{"code": 2, "markdown": 1, "raw": 0}
	if diff := cmp.Diff(want, st.CellCounts); diff != "" {
		t.Errorf("CellCounts (-want +got):\n%s", diff)
	}
	if st.TotalCells != 3 || st.ExecutedCells != 2 || st.CellsWithOutputs != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.NbformatVersion != "4.5" || st.KernelSpec["name"] != "python3" {
		t.Errorf("version = %q, kernel = %v", st.NbformatVersion, st.KernelSpec)
	}
}

func TestBackup(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "nb.ipynb")
	seed(t, svc, path)

	info, err := svc.Backup(path)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if want := filepath.Join(dir, "nb_backup_20240301_120000.ipynb"); info.BackupPath != want {
		t.Errorf("BackupPath = %q, want %q", info.BackupPath, want)
	}
	if _, err := svc.Backup(filepath.Join(dir, "missing.ipynb")); !errors.Is(err, notebook.ErrPersistence) {
		t.Errorf("Backup(missing) error = %v, want ErrPersistence", err)
	}
}

func TestSearch(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "s.ipynb")
	seed(t, svc, path, "import pandas as pd\ndf = pd.DataFrame()\n  df.head()  ")

	res, err := svc.Search(path, "DF", false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []service.Match{{
		CellIndex: 1,
		CellType:  notebook.CellCode,
		MatchingLines: []service.LineMatch{
			{LineNumber: 2, Content: "df = pd.DataFrame()"},
			{LineNumber: 3, Content: "df.head()"},
		},
	}}
	if diff := cmp.Diff(want, res.Matches); diff != "" {
		t.Errorf("Matches (-want +got):\n%s", diff)
	}

	res, err = svc.Search(path, "DF", true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.MatchesFound != 0 {
		t.Errorf("case sensitive search found %d matches", res.MatchesFound)
	}

	if _, err := svc.Search(path, "", false); !errors.Is(err, service.ErrInvalidArgument) {
		t.Errorf("empty term error = %v", err)
	}
}

func TestDependencies(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "d.ipynb")
	seed(t, svc, path,
		"import numpy as np\nimport os, sys\nfrom sklearn.model_selection import train_test_split",
		"!pip install -q requests pandas==2.0 # deps\n%pip install --upgrade numpy\nfrom . import local",
	)

	deps, err := svc.Dependencies(path)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if diff := cmp.Diff([]string{"numpy", "os", "sklearn", "sys"}, deps.ImportedModules); diff != "" {
		t.Errorf("ImportedModules (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"numpy", "pandas==2.0", "requests"}, deps.PipInstalls); diff != "" {
		t.Errorf("PipInstalls (-want +got):\n%s", diff)
	}
	if deps.TotalImports != 4 || deps.TotalPipInstalls != 3 {
		t.Errorf("totals = %d, %d", deps.TotalImports, deps.TotalPipInstalls)
	}
}

func TestCellEdits(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "e.ipynb")
	seed(t, svc, path, "a = 1", "b = 2")

	sources := func() []string {
		t.Helper()
		doc, err := svc.Read(path)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var out []string
		for _, c := range doc.Cells {
			out = append(out, c.Source)
		}
		return out
	}

	zero := 0
	if ch, err := svc.AddCell(path, "raw", "top", &zero); err != nil || ch.CellIndex != 0 || ch.TotalCells != 4 {
		t.Fatalf("AddCell = %+v, %v", ch, err)
	}
	if ch, err := svc.AddCell(path, "code", "c = 3", nil); err != nil || ch.CellIndex != 4 {
		t.Fatalf("AddCell(append) = %+v, %v", ch, err)
	}
	if _, err := svc.AddCell(path, "heading", "x", nil); !errors.Is(err, notebook.ErrInvalidCellType) {
		t.Errorf("AddCell(heading) error = %v", err)
	}

	if _, err := svc.ModifyCell(path, 2, "a = 10"); err != nil {
		t.Fatalf("ModifyCell: %v", err)
	}
	got, err := svc.GetCell(path, 2)
	if err != nil {
		t.Fatalf("GetCell: %v", err)
	}
	if got.Source != "a = 10" || got.ExecutionCount != nil || len(got.Outputs) != 0 {
		t.Errorf("modified cell = %+v", got)
	}

	if _, err := svc.MoveCell(path, 0, 4); err != nil {
		t.Fatalf("MoveCell: %v", err)
	}
	if ch, err := svc.DuplicateCell(path, 0); err != nil || ch.CellIndex != 1 {
		t.Fatalf("DuplicateCell = %+v, %v", ch, err)
	}
	if ch, err := svc.DeleteCell(path, 2); err != nil || ch.CellType != notebook.CellCode {
		t.Fatalf("DeleteCell = %+v, %v", ch, err)
	}
	want := []string{"# Seeded\nSome analysis notes", "# Seeded\nSome analysis notes", "b = 2", "c = 3", "top"}
	if diff := cmp.Diff(want, sources()); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}

	if _, err := svc.GetCell(path, 9); !errors.Is(err, notebook.ErrIndexOutOfRange) {
		t.Errorf("GetCell(9) error = %v", err)
	}
	if _, err := svc.MoveCell(path, 0, 5); !errors.Is(err, notebook.ErrIndexOutOfRange) {
		t.Errorf("MoveCell to end error = %v", err)
	}
}

func TestOutOfRangeEditsLeaveFileUntouched(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "r.ipynb")
	seed(t, svc, path, "a = 1")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	edits := map[string]func() error{
		"modify":   func() error { _, err := svc.ModifyCell(path, 9, "x"); return err },
		"delete":   func() error { _, err := svc.DeleteCell(path, 9); return err },
		"move":     func() error { _, err := svc.MoveCell(path, 0, 5); return err },
		"negative": func() error { _, err := svc.DeleteCell(path, -1); return err },
	}
	for name, edit := range edits {
		if err := edit(); !errors.Is(err, notebook.ErrIndexOutOfRange) {
			t.Errorf("%s error = %v, want ErrIndexOutOfRange", name, err)
		}
		after, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(before, after) {
			t.Errorf("%s rewrote the notebook", name)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the notebook", len(entries))
	}
}

func TestClearOutputs(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "c.ipynb")
	seed(t, svc, path, "a = 1", "b = 2")

	one := 1
	res, err := svc.ClearOutputs(path, &one)
	if err != nil || res.CellsCleared != 1 {
		t.Fatalf("ClearOutputs(1) = %+v, %v", res, err)
	}
	if c, _ := svc.GetCell(path, 2); len(c.Outputs) != 1 {
		t.Errorf("cell 2 lost its outputs")
	}

	zero := 0
	if _, err := svc.ClearOutputs(path, &zero); !errors.Is(err, notebook.ErrInvalidCell) {
		t.Errorf("ClearOutputs(markdown) error = %v", err)
	}

	res, err = svc.ClearOutputs(path, nil)
	if err != nil || res.CellsCleared != 2 {
		t.Fatalf("ClearOutputs(all) = %+v, %v", res, err)
	}
	st, _ := svc.Metadata(path)
	if st.ExecutedCells != 0 || st.CellsWithOutputs != 0 {
		t.Errorf("after clear: executed %d, with outputs %d", st.ExecutedCells, st.CellsWithOutputs)
	}
}

func TestChangeCellType(t *testing.T) {
	svc, dir := newService(t)
	path := filepath.Join(dir, "t.ipynb")
	seed(t, svc, path, "a = 1")

	res, err := svc.ChangeCellType(path, 1, "code")
	if err != nil || res.Changed {
		t.Fatalf("same type = %+v, %v", res, err)
	}

	res, err = svc.ChangeCellType(path, 1, "markdown")
	if err != nil || !res.Changed || res.OldType != notebook.CellCode {
		t.Fatalf("to markdown = %+v, %v", res, err)
	}
	c, _ := svc.GetCell(path, 1)
	if c.CellType != notebook.CellMarkdown || c.Source != "a = 1" || c.Outputs != nil {
		t.Errorf("converted cell = %+v", c)
	}

	if _, err := svc.ChangeCellType(path, 1, "bogus"); !errors.Is(err, notebook.ErrInvalidCellType) {
		t.Errorf("bogus type error = %v", err)
	}
}
