// Package export converts notebooks to other formats. Python, code-only and
// Markdown are rendered in process; HTML, PDF and slides are delegated to
// jupyter nbconvert when it is installed.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/nstogner/nbtool/pkg/notebook"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrUnavailable   = errors.New("nbconvert not available")
)

// Format names an export target.
type Format string

const (
	FormatPython   Format = "python"
	FormatCodeOnly Format = "python_code_only"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatSlides   Format = "slides"
)

type formatSpec struct {
	extension   string
	description string
	// nbconvert is the --to value; empty for in-process formats.
	nbconvert string
}

var formats = map[Format]formatSpec{
	FormatPython:   {extension: ".py", description: "Python script with all cells"},
	FormatCodeOnly: {extension: "_code_only.py", description: "Python script with code cells only"},
	FormatMarkdown: {extension: ".md", description: "Markdown document"},
	FormatHTML:     {extension: ".html", description: "HTML document", nbconvert: "html"},
	FormatPDF:      {extension: ".pdf", description: "PDF document", nbconvert: "pdf"},
	FormatSlides:   {extension: "_slides.html", description: "HTML slides presentation", nbconvert: "slides"},
}

const nbconvertTimeout = 2 * time.Minute

// Exporter writes exports next to their notebooks.
type Exporter struct {
	store *notebook.Store
	// command invokes nbconvert, for example ["jupyter", "nbconvert"].
	command []string

	once      sync.Once
	available bool
}

// New creates an Exporter. A nil command uses "jupyter nbconvert".
func New(store *notebook.Store, command []string) *Exporter {
	if len(command) == 0 {
		command = []string{"jupyter", "nbconvert"}
	}
	return &Exporter{store: store, command: command}
}

// Result reports one export.
type Result struct {
	Path              string `json:"notebook_path"`
	OutputPath        string `json:"output_path"`
	Format            Format `json:"format"`
	CellsExported     int    `json:"total_cells_exported,omitempty"`
	CodeCellsExported int    `json:"code_cells_exported,omitempty"`
}

// DefaultOutput derives the output path for path in format f.
func DefaultOutput(path string, f Format) string {
	return strings.TrimSuffix(path, ".ipynb") + formats[f].extension
}

// Export converts path to format f. An empty output uses DefaultOutput.
func (e *Exporter) Export(ctx context.Context, f Format, path, output string) (*Result, error) {
	spec, ok := formats[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if output == "" {
		output = DefaultOutput(path, f)
	}
	res := &Result{Path: path, OutputPath: output, Format: f}

	var data []byte
	if spec.nbconvert != "" {
		out, err := e.convert(ctx, spec.nbconvert, path)
		if err != nil {
			return nil, err
		}
		data = out
	} else {
		nb, err := e.store.Load(path)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		switch f {
		case FormatPython:
			err = pythonTmpl.Execute(&buf, cellViews(nb))
			res.CellsExported = nb.Len()
		case FormatCodeOnly:
			views := codeViews(nb)
			err = codeOnlyTmpl.Execute(&buf, views)
			res.CodeCellsExported = len(views)
		case FormatMarkdown:
			err = markdownTmpl.Execute(&buf, cellViews(nb))
			res.CellsExported = nb.Len()
		}
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", f, err)
		}
		data = buf.Bytes()
	}

	if err := renameio.WriteFile(output, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing %s: %w", notebook.ErrPersistence, output, err)
	}
	return res, nil
}

func (e *Exporter) convert(ctx context.Context, to, path string) ([]byte, error) {
	if !e.Available(ctx) {
		return nil, fmt.Errorf("%w: install it with: pip install nbconvert", ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, nbconvertTimeout)
	defer cancel()

	args := append(append([]string(nil), e.command[1:]...), "--to", to, "--stdout", path)
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nbconvert --to %s: %w: %s", to, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Available reports whether nbconvert can be run. The check runs once.
func (e *Exporter) Available(ctx context.Context) bool {
	e.once.Do(func() {
		if _, err := exec.LookPath(e.command[0]); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		args := append(append([]string(nil), e.command[1:]...), "--version")
		if err := exec.CommandContext(ctx, e.command[0], args...).Run(); err != nil {
			slog.Debug("nbconvert check failed", "error", err)
			return
		}
		e.available = true
	})
	return e.available
}

// FormatInfo describes one export format.
type FormatInfo struct {
	Extension   string `json:"extension"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// FormatList is the result of Formats.
type FormatList struct {
	Formats            map[Format]FormatInfo `json:"formats"`
	NbconvertAvailable bool                  `json:"nbconvert_available"`
}

// Formats lists every export format and whether it can currently be used.
func (e *Exporter) Formats(ctx context.Context) *FormatList {
	avail := e.Available(ctx)
	list := &FormatList{Formats: map[Format]FormatInfo{}, NbconvertAvailable: avail}
	for f, spec := range formats {
		list.Formats[f] = FormatInfo{
			Extension:   spec.extension,
			Description: spec.description,
			Available:   spec.nbconvert == "" || avail,
		}
	}
	return list
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}
