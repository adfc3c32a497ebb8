// Package notebook is the in-memory model of a Jupyter notebook document
// together with the store that loads and saves it.
//
// Cell sources are always held as a single string regardless of how the file
// on disk represents them. Cells are addressed by index only.
package notebook

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CellType is the tag of a cell variant.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// ParseCellType validates a cell type tag.
func ParseCellType(s string) (CellType, error) {
	switch t := CellType(strings.ToLower(strings.TrimSpace(s))); t {
	case CellCode, CellMarkdown, CellRaw:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (want code, markdown or raw)", ErrInvalidCellType, s)
}

// Output kinds produced by a kernel.
const (
	OutputStream        = "stream"
	OutputDisplayData   = "display_data"
	OutputExecuteResult = "execute_result"
	OutputError         = "error"
)

// Output is one record in a code cell's output list.
type Output struct {
	OutputType string `json:"output_type"`

	// stream
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// display_data, execute_result
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`

	// error
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// Cell is a single notebook cell. ExecutionCount and Outputs are only
// meaningful for code cells.
type Cell struct {
	ID             string
	Type           CellType
	Source         string
	Metadata       map[string]any
	Attachments    map[string]any
	ExecutionCount *int
	Outputs        []Output
}

// Notebook is an ordered list of cells plus document metadata.
type Notebook struct {
	Cells         []*Cell
	Metadata      map[string]any
	Nbformat      int
	NbformatMinor int
}

const (
	defaultNbformat      = 4
	defaultNbformatMinor = 5
)

// New returns an empty notebook seeded with a default python3 kernelspec.
func New(title string) *Notebook {
	md := map[string]any{
		"kernelspec": map[string]any{
			"display_name": "Python 3",
			"language":     "python",
			"name":         "python3",
		},
		"language_info": map[string]any{
			"name":           "python",
			"file_extension": ".py",
			"mimetype":       "text/x-python",
		},
	}
	if title != "" {
		md["title"] = title
	}
	return &Notebook{
		Metadata:      md,
		Nbformat:      defaultNbformat,
		NbformatMinor: defaultNbformatMinor,
	}
}

// NewCell builds a cell of the given type that fits this notebook's format
// version (cells get an id on nbformat 4.5 and later).
func (nb *Notebook) NewCell(t CellType, source string) *Cell {
	c := &Cell{
		Type:     t,
		Source:   source,
		Metadata: map[string]any{},
	}
	if nb.wantsIDs() {
		c.ID = newCellID()
	}
	return c
}

func (nb *Notebook) wantsIDs() bool {
	return nb.Nbformat > 4 || (nb.Nbformat == 4 && nb.NbformatMinor >= 5)
}

func newCellID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Len returns the number of cells.
func (nb *Notebook) Len() int { return len(nb.Cells) }

// Cell returns the cell at index i.
func (nb *Notebook) Cell(i int) (*Cell, error) {
	if err := nb.checkIndex(i); err != nil {
		return nil, err
	}
	return nb.Cells[i], nil
}

// CodeCell returns the cell at index i, failing with ErrInvalidCell when it
// is not a code cell.
func (nb *Notebook) CodeCell(i int) (*Cell, error) {
	c, err := nb.Cell(i)
	if err != nil {
		return nil, err
	}
	if c.Type != CellCode {
		return nil, fmt.Errorf("%w: cell %d is %s, not code", ErrInvalidCell, i, c.Type)
	}
	return c, nil
}

// Title returns metadata.title, falling back to the first markdown heading.
func (nb *Notebook) Title() string {
	if t, ok := nb.Metadata["title"].(string); ok && t != "" {
		return t
	}
	for _, c := range nb.Cells {
		if c.Type != CellMarkdown {
			continue
		}
		line, _, _ := strings.Cut(strings.TrimSpace(c.Source), "\n")
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

// KernelSpec returns the kernelspec name recorded in the document metadata.
func (nb *Notebook) KernelSpec() string {
	ks, _ := nb.Metadata["kernelspec"].(map[string]any)
	name, _ := ks["name"].(string)
	return name
}

func (nb *Notebook) checkIndex(i int) error {
	if i < 0 || i >= len(nb.Cells) {
		return fmt.Errorf("%w: %d (notebook has %d cells)", ErrIndexOutOfRange, i, len(nb.Cells))
	}
	return nil
}

// ClearOutputs drops outputs and the execution count. It is a no-op for
// non-code cells.
func (c *Cell) ClearOutputs() {
	if c.Type != CellCode {
		return
	}
	c.Outputs = []Output{}
	c.ExecutionCount = nil
}

// Summaries returns the printable form of each output.
func (c *Cell) Summaries() []string {
	out := make([]string, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		out = append(out, Summarize(o))
	}
	return out
}

// Clone returns a deep copy of the cell without its id.
func (c *Cell) Clone() *Cell {
	cp := &Cell{
		Type:        c.Type,
		Source:      c.Source,
		Metadata:    copyMap(c.Metadata),
		Attachments: copyMap(c.Attachments),
	}
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		cp.ExecutionCount = &n
	}
	for _, o := range c.Outputs {
		cp.Outputs = append(cp.Outputs, o.clone())
	}
	return cp
}

func (o Output) clone() Output {
	cp := o
	cp.Data = copyMap(o.Data)
	cp.Metadata = copyMap(o.Metadata)
	if o.ExecutionCount != nil {
		n := *o.ExecutionCount
		cp.ExecutionCount = &n
	}
	cp.Traceback = append([]string(nil), o.Traceback...)
	return cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		cp := make([]any, len(x))
		for i := range x {
			cp[i] = copyValue(x[i])
		}
		return cp
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
