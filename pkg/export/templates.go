package export

import (
	"strings"
	"text/template"

	"github.com/nstogner/nbtool/pkg/notebook"
)

type cellView struct {
	// Number is 1-based.
	Number   int
	Type     notebook.CellType
	Source   string
	Outputs  []string
	Original int
}

func cellViews(nb *notebook.Notebook) []cellView {
	views := make([]cellView, 0, nb.Len())
	for i, c := range nb.Cells {
		v := cellView{Number: i + 1, Type: c.Type, Source: c.Source}
		for _, s := range c.Summaries() {
			if strings.TrimSpace(s) != "" {
				v.Outputs = append(v.Outputs, strings.TrimRight(s, "\n"))
			}
		}
		views = append(views, v)
	}
	return views
}

// codeViews returns the non-blank code cells, numbered among themselves.
func codeViews(nb *notebook.Notebook) []cellView {
	var views []cellView
	for i, c := range nb.Cells {
		if c.Type != notebook.CellCode || strings.TrimSpace(c.Source) == "" {
			continue
		}
		views = append(views, cellView{Number: len(views) + 1, Original: i + 1, Type: c.Type, Source: c.Source})
	}
	return views
}

var funcs = template.FuncMap{
	"comment": func(s string) string {
		lines := strings.Split(s, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight("# "+l, " ")
		}
		return strings.Join(lines, "\n")
	},
}

var pythonTmpl = template.Must(template.New("python").Funcs(funcs).Parse(
	`{{range .}}{{if eq .Type "code"}}# Cell {{.Number}}
{{.Source}}

{{else if eq .Type "markdown"}}# Markdown Cell {{.Number}}
{{comment .Source}}

{{end}}{{end}}`))

var codeOnlyTmpl = template.Must(template.New("code").Parse(
	`{{range .}}# Code Cell {{.Number}} (Original Cell {{.Original}})
{{.Source}}

{{end}}`))

var markdownTmpl = template.Must(template.New("markdown").Parse(
	`{{range .}}{{if eq .Type "markdown"}}{{.Source}}

{{else if eq .Type "code"}}` + "```python" + `
{{.Source}}
` + "```" + `
{{if .Outputs}}
**Output:**
{{range .Outputs}}` + "```" + `
{{.}}
` + "```" + `
{{end}}{{end}}
{{end}}{{end}}`))
