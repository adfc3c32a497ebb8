package tools

import (
	"context"

	"github.com/nstogner/nbtool/pkg/export"
)

var exportTools = []struct {
	name        string
	format      export.Format
	description string
}{
	{"export_to_python", export.FormatPython, "Export every cell to a Python script; markdown becomes comments."},
	{"export_code_only", export.FormatCodeOnly, "Export only the non-empty code cells to a Python script."},
	{"export_to_markdown", export.FormatMarkdown, "Export to Markdown with fenced code and outputs."},
	{"export_to_html", export.FormatHTML, "Export to HTML via nbconvert."},
	{"export_to_pdf", export.FormatPDF, "Export to PDF via nbconvert."},
	{"export_to_slides", export.FormatSlides, "Export to reveal.js slides via nbconvert."},
}

// RegisterExport adds one tool per export format plus the format listing.
func RegisterExport(r *Registry, e *export.Exporter) {
	for _, et := range exportTools {
		format := et.format
		r.Register(newFunc(et.name, et.description,
			func(ctx context.Context, a Args) (any, error) {
				path, err := a.String("notebook_path")
				if err != nil {
					return nil, err
				}
				out, err := a.OptString("output_path", "")
				if err != nil {
					return nil, err
				}
				return e.Export(ctx, format, path, out)
			},
			pathParam, outputParam))
	}

	r.Register(newFunc("get_available_export_formats",
		"List export formats and whether each is currently available.",
		func(ctx context.Context, a Args) (any, error) {
			return e.Formats(ctx), nil
		}))
}
