package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type fileNotebook struct {
	Cells         []json.RawMessage `json:"cells"`
	Metadata      map[string]any    `json:"metadata"`
	Nbformat      int               `json:"nbformat"`
	NbformatMinor int               `json:"nbformat_minor"`
}

type fileCell struct {
	ID             string          `json:"id"`
	CellType       string          `json:"cell_type"`
	Source         json.RawMessage `json:"source"`
	Metadata       map[string]any  `json:"metadata"`
	Attachments    map[string]any  `json:"attachments"`
	ExecutionCount *int            `json:"execution_count"`
	Outputs        []fileOutput    `json:"outputs"`
}

type fileOutput struct {
	OutputType     string          `json:"output_type"`
	Name           string          `json:"name"`
	Text           json.RawMessage `json:"text"`
	Data           map[string]any  `json:"data"`
	Metadata       map[string]any  `json:"metadata"`
	ExecutionCount *int            `json:"execution_count"`
	EName          string          `json:"ename"`
	EValue         string          `json:"evalue"`
	Traceback      []string        `json:"traceback"`
}

// Decode parses an nbformat 4 document.
func Decode(data []byte) (*Notebook, error) {
	var f fileNotebook
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	if f.Nbformat != 4 {
		return nil, fmt.Errorf("unsupported nbformat %d", f.Nbformat)
	}

	nb := &Notebook{
		Metadata:      f.Metadata,
		Nbformat:      f.Nbformat,
		NbformatMinor: f.NbformatMinor,
		Cells:         make([]*Cell, 0, len(f.Cells)),
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}

	for i, raw := range f.Cells {
		c, err := decodeCell(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		nb.Cells = append(nb.Cells, c)
	}
	return nb, nil
}

func decodeCell(raw json.RawMessage) (*Cell, error) {
	var fc fileCell
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, err
	}
	t, err := ParseCellType(fc.CellType)
	if err != nil {
		return nil, err
	}
	src, err := joinText(fc.Source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	c := &Cell{
		ID:          fc.ID,
		Type:        t,
		Source:      src,
		Metadata:    fc.Metadata,
		Attachments: fc.Attachments,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if t != CellCode {
		return c, nil
	}

	c.ExecutionCount = fc.ExecutionCount
	c.Outputs = make([]Output, 0, len(fc.Outputs))
	for j, fo := range fc.Outputs {
		text, err := joinText(fo.Text)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}
		c.Outputs = append(c.Outputs, Output{
			OutputType:     fo.OutputType,
			Name:           fo.Name,
			Text:           text,
			Data:           normalizeBundle(fo.Data),
			Metadata:       fo.Metadata,
			ExecutionCount: fo.ExecutionCount,
			EName:          fo.EName,
			EValue:         fo.EValue,
			Traceback:      fo.Traceback,
		})
	}
	return c, nil
}

// joinText accepts nbformat's multiline string: a string or a list of strings.
func joinText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("want string or list of strings")
	}
	return strings.Join(lines, ""), nil
}

// normalizeBundle joins list-of-line values in a MIME bundle.
func normalizeBundle(data map[string]any) map[string]any {
	for k, v := range data {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		var sb strings.Builder
		allStrings := true
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				allStrings = false
				break
			}
			sb.WriteString(s)
		}
		if allStrings {
			data[k] = sb.String()
		}
	}
	return data
}

// Encode renders the notebook as nbformat JSON with one-space indentation,
// the layout Jupyter itself writes.
func Encode(nb *Notebook) ([]byte, error) {
	cells := make([]map[string]any, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		cells = append(cells, encodeCell(c))
	}
	md := nb.Metadata
	if md == nil {
		md = map[string]any{}
	}
	doc := map[string]any{
		"cells":          cells,
		"metadata":       md,
		"nbformat":       nb.Nbformat,
		"nbformat_minor": nb.NbformatMinor,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCell(c *Cell) map[string]any {
	md := c.Metadata
	if md == nil {
		md = map[string]any{}
	}
	m := map[string]any{
		"cell_type": string(c.Type),
		"metadata":  md,
		"source":    c.Source,
	}
	if c.ID != "" {
		m["id"] = c.ID
	}
	if c.Type != CellCode {
		if c.Attachments != nil {
			m["attachments"] = c.Attachments
		}
		return m
	}

	m["execution_count"] = c.ExecutionCount
	outputs := make([]map[string]any, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		outputs = append(outputs, encodeOutput(o))
	}
	m["outputs"] = outputs
	return m
}

func encodeOutput(o Output) map[string]any {
	m := map[string]any{"output_type": o.OutputType}
	orEmpty := func(v map[string]any) map[string]any {
		if v == nil {
			return map[string]any{}
		}
		return v
	}
	switch o.OutputType {
	case OutputStream:
		m["name"] = o.Name
		m["text"] = o.Text
	case OutputDisplayData:
		m["data"] = orEmpty(o.Data)
		m["metadata"] = orEmpty(o.Metadata)
	case OutputExecuteResult:
		m["data"] = orEmpty(o.Data)
		m["metadata"] = orEmpty(o.Metadata)
		m["execution_count"] = o.ExecutionCount
	case OutputError:
		tb := o.Traceback
		if tb == nil {
			tb = []string{}
		}
		m["ename"] = o.EName
		m["evalue"] = o.EValue
		m["traceback"] = tb
	default:
		if o.Name != "" {
			m["name"] = o.Name
		}
		if o.Text != "" {
			m["text"] = o.Text
		}
		if o.Data != nil {
			m["data"] = o.Data
		}
		if o.Metadata != nil {
			m["metadata"] = o.Metadata
		}
	}
	return m
}
