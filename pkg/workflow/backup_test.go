package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/notebook"
)

func TestBatchBackupFailureIsNotSuccess(t *testing.T) {
	store := notebook.NewStore(notebook.WithClock(clockwork.NewFakeClock()))
	path := filepath.Join(t.TempDir(), "b.ipynb")
	if _, err := store.Save(notebook.New("Backup"), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	o := New(store, nil, nil)
	o.backupFile = func(string) (string, error) { return "", errors.New("disk full") }

	specs := []CellSpec{{Type: "markdown", Content: "one"}, {Type: "markdown", Content: "two"}}
	res := o.BatchCreateAndExecute(context.Background(), path, specs, Options{AutoBackup: true})
	if res.Success {
		t.Error("Success = true after a failed backup")
	}
	if res.StoppedEarly || res.CellsCreated != 2 {
		t.Errorf("StoppedEarly = %v, CellsCreated = %d; want false, 2", res.StoppedEarly, res.CellsCreated)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "disk full") {
		t.Errorf("Errors = %v", res.Errors)
	}

	res = o.BatchCreateAndExecute(context.Background(), path, specs, Options{AutoBackup: true, StopOnError: true})
	if res.Success || !res.StoppedEarly || res.CellsCreated != 0 {
		t.Errorf("stop on error: Success = %v, StoppedEarly = %v, CellsCreated = %d", res.Success, res.StoppedEarly, res.CellsCreated)
	}
}
