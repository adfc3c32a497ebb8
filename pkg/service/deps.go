package service

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nstogner/nbtool/pkg/notebook"
)

var (
	importLine = regexp.MustCompile(`^import\s+(.+)$`)
	fromLine   = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import\b`)
	pipLine    = regexp.MustCompile(`[!%]pip3?\s+install\s+(.*)$`)
)

// Dependencies is the result of the dependency scan.
type Dependencies struct {
	Path             string   `json:"notebook_path"`
	ImportedModules  []string `json:"imported_modules"`
	PipInstalls      []string `json:"pip_installs"`
	TotalImports     int      `json:"total_imports"`
	TotalPipInstalls int      `json:"total_pip_installs"`
}

// Dependencies lists the top-level packages imported by code cells and the
// packages installed with !pip or %pip. Flags are skipped.
func (s *Service) Dependencies(path string) (*Dependencies, error) {
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	imports := map[string]bool{}
	pips := map[string]bool{}
	for _, c := range nb.Cells {
		if c.Type != notebook.CellCode {
			continue
		}
		for _, line := range strings.Split(c.Source, "\n") {
			scanLine(strings.TrimSpace(line), imports, pips)
		}
	}
	deps := &Dependencies{
		Path:            path,
		ImportedModules: sortedKeys(imports),
		PipInstalls:     sortedKeys(pips),
	}
	deps.TotalImports = len(deps.ImportedModules)
	deps.TotalPipInstalls = len(deps.PipInstalls)
	return deps, nil
}

func scanLine(line string, imports, pips map[string]bool) {
	if m := importLine.FindStringSubmatch(line); m != nil {
		for _, part := range strings.Split(stripComment(m[1]), ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			if name := topLevel(fields[0]); name != "" {
				imports[name] = true
			}
		}
	}
	if m := fromLine.FindStringSubmatch(line); m != nil {
		if name := topLevel(m[1]); name != "" {
			imports[name] = true
		}
	}
	if m := pipLine.FindStringSubmatch(line); m != nil {
		for _, pkg := range strings.Fields(stripComment(m[1])) {
			if !strings.HasPrefix(pkg, "-") {
				pips[pkg] = true
			}
		}
	}
}

func topLevel(module string) string {
	name, _, _ := strings.Cut(module, ".")
	return name
}

func stripComment(s string) string {
	s, _, _ = strings.Cut(s, "#")
	return s
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
