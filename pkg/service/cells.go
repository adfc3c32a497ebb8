package service

import (
	"github.com/nstogner/nbtool/pkg/notebook"
)

// Change reports a single-cell edit.
type Change struct {
	Path       string            `json:"notebook_path"`
	CellIndex  int               `json:"cell_index"`
	CellType   notebook.CellType `json:"cell_type,omitempty"`
	TotalCells int               `json:"total_cells"`
	BackupPath string            `json:"backup_path,omitempty"`
}

// edit loads path, applies fn and saves the result.
func (s *Service) edit(path string, fn func(nb *notebook.Notebook) error) (*notebook.Notebook, string, error) {
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := fn(nb); err != nil {
		return nil, "", err
	}
	backup, err := s.store.Save(nb, path)
	if err != nil {
		return nil, "", err
	}
	return nb, backup, nil
}

// AddCell inserts a cell at index, or appends when index is nil.
func (s *Service) AddCell(path, cellType, content string, index *int) (*Change, error) {
	t, err := notebook.ParseCellType(cellType)
	if err != nil {
		return nil, err
	}
	var at int
	nb, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		at = nb.Len()
		if index != nil {
			at = *index
		}
		return nb.Insert(at, nb.NewCell(t, content))
	})
	if err != nil {
		return nil, err
	}
	return &Change{Path: path, CellIndex: at, CellType: t, TotalCells: nb.Len(), BackupPath: backup}, nil
}

// ModifyCell replaces the source of a cell. Code cells lose their outputs.
func (s *Service) ModifyCell(path string, index int, content string) (*Change, error) {
	nb, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		return nb.SetSource(index, content)
	})
	if err != nil {
		return nil, err
	}
	return &Change{Path: path, CellIndex: index, CellType: nb.Cells[index].Type, TotalCells: nb.Len(), BackupPath: backup}, nil
}

func (s *Service) DeleteCell(path string, index int) (*Change, error) {
	var deleted *notebook.Cell
	nb, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		var err error
		deleted, err = nb.Delete(index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Change{Path: path, CellIndex: index, CellType: deleted.Type, TotalCells: nb.Len(), BackupPath: backup}, nil
}

// GetCell returns one cell without modifying the document.
func (s *Service) GetCell(path string, index int) (*CellView, error) {
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	c, err := nb.Cell(index)
	if err != nil {
		return nil, err
	}
	v := viewCell(index, c)
	return &v, nil
}

// Moved reports MoveCell.
type Moved struct {
	Path       string `json:"notebook_path"`
	FromIndex  int    `json:"from_index"`
	ToIndex    int    `json:"to_index"`
	TotalCells int    `json:"total_cells"`
	BackupPath string `json:"backup_path,omitempty"`
}

func (s *Service) MoveCell(path string, from, to int) (*Moved, error) {
	nb, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		return nb.Move(from, to)
	})
	if err != nil {
		return nil, err
	}
	return &Moved{Path: path, FromIndex: from, ToIndex: to, TotalCells: nb.Len(), BackupPath: backup}, nil
}

// DuplicateCell copies a cell to the position after it. The reported index
// is the copy's.
func (s *Service) DuplicateCell(path string, index int) (*Change, error) {
	var at int
	nb, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		var err error
		at, err = nb.Duplicate(index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Change{Path: path, CellIndex: at, CellType: nb.Cells[at].Type, TotalCells: nb.Len(), BackupPath: backup}, nil
}

// Cleared reports ClearOutputs.
type Cleared struct {
	Path         string `json:"notebook_path"`
	CellIndex    *int   `json:"cell_index,omitempty"`
	CellsCleared int    `json:"cells_cleared"`
	BackupPath   string `json:"backup_path,omitempty"`
}

// ClearOutputs clears one code cell, or every code cell when index is nil.
func (s *Service) ClearOutputs(path string, index *int) (*Cleared, error) {
	n := 0
	_, backup, err := s.edit(path, func(nb *notebook.Notebook) error {
		if index == nil {
			n = nb.ClearAllOutputs()
			return nil
		}
		n = 1
		return nb.ClearOutputsAt(*index)
	})
	if err != nil {
		return nil, err
	}
	return &Cleared{Path: path, CellIndex: index, CellsCleared: n, BackupPath: backup}, nil
}

// TypeChange reports ChangeCellType.
type TypeChange struct {
	Path       string            `json:"notebook_path"`
	CellIndex  int               `json:"cell_index"`
	OldType    notebook.CellType `json:"old_type"`
	NewType    notebook.CellType `json:"new_type"`
	Changed    bool              `json:"changed"`
	BackupPath string            `json:"backup_path,omitempty"`
}

// ChangeCellType converts a cell. Converting to the current type leaves the
// file untouched.
func (s *Service) ChangeCellType(path string, index int, newType string) (*TypeChange, error) {
	t, err := notebook.ParseCellType(newType)
	if err != nil {
		return nil, err
	}
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	c, err := nb.Cell(index)
	if err != nil {
		return nil, err
	}
	res := &TypeChange{Path: path, CellIndex: index, OldType: c.Type, NewType: t}
	if c.Type == t {
		return res, nil
	}
	if _, err := nb.ChangeType(index, t); err != nil {
		return nil, err
	}
	backup, err := s.store.Save(nb, path)
	if err != nil {
		return nil, err
	}
	res.Changed = true
	res.BackupPath = backup
	return res, nil
}
