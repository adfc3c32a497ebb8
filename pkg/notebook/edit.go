package notebook

import "fmt"

// Insert places c at position at. at == Len() appends.
func (nb *Notebook) Insert(at int, c *Cell) error {
	if at < 0 || at > len(nb.Cells) {
		return fmt.Errorf("%w: insert at %d (notebook has %d cells)", ErrIndexOutOfRange, at, len(nb.Cells))
	}
	nb.Cells = append(nb.Cells, nil)
	copy(nb.Cells[at+1:], nb.Cells[at:])
	nb.Cells[at] = c
	return nil
}

// SetSource replaces the source of cell i. Code cells lose their outputs and
// execution count since they no longer describe the new source.
func (nb *Notebook) SetSource(i int, source string) error {
	c, err := nb.Cell(i)
	if err != nil {
		return err
	}
	c.Source = source
	c.ClearOutputs()
	return nil
}

// Delete removes and returns cell i.
func (nb *Notebook) Delete(i int) (*Cell, error) {
	c, err := nb.Cell(i)
	if err != nil {
		return nil, err
	}
	nb.Cells = append(nb.Cells[:i], nb.Cells[i+1:]...)
	return c, nil
}

// Move relocates cell from to position to. Both indices must address
// existing cells.
func (nb *Notebook) Move(from, to int) error {
	if err := nb.checkIndex(from); err != nil {
		return err
	}
	if err := nb.checkIndex(to); err != nil {
		return err
	}
	c := nb.Cells[from]
	nb.Cells = append(nb.Cells[:from], nb.Cells[from+1:]...)
	nb.Cells = append(nb.Cells, nil)
	copy(nb.Cells[to+1:], nb.Cells[to:])
	nb.Cells[to] = c
	return nil
}

// Duplicate inserts a copy of cell i at i+1 and returns the new index. The
// copy shares type and source, owns an independent metadata copy, and starts
// without outputs.
func (nb *Notebook) Duplicate(i int) (int, error) {
	c, err := nb.Cell(i)
	if err != nil {
		return 0, err
	}
	dup := c.Clone()
	dup.ClearOutputs()
	if nb.wantsIDs() {
		dup.ID = newCellID()
	}
	if err := nb.Insert(i+1, dup); err != nil {
		return 0, err
	}
	return i + 1, nil
}

// ChangeType converts cell i to t, keeping source and metadata. It returns
// the previous type; converting to the same type is a no-op.
func (nb *Notebook) ChangeType(i int, t CellType) (CellType, error) {
	c, err := nb.Cell(i)
	if err != nil {
		return "", err
	}
	old := c.Type
	if old == t {
		return old, nil
	}
	c.Type = t
	c.ExecutionCount = nil
	c.Outputs = nil
	if t == CellCode {
		c.Outputs = []Output{}
		c.Attachments = nil
	}
	return old, nil
}

// ClearOutputsAt clears outputs of code cell i.
func (nb *Notebook) ClearOutputsAt(i int) error {
	c, err := nb.CodeCell(i)
	if err != nil {
		return err
	}
	c.ClearOutputs()
	return nil
}

// ClearAllOutputs clears every code cell and returns how many were touched.
func (nb *Notebook) ClearAllOutputs() int {
	n := 0
	for _, c := range nb.Cells {
		if c.Type == CellCode {
			c.ClearOutputs()
			n++
		}
	}
	return n
}
