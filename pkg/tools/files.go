package tools

import (
	"context"
	"log/slog"

	"github.com/nstogner/nbtool/pkg/service"
)

// RegisterFiles adds the whole-notebook tools.
func RegisterFiles(r *Registry, svc *service.Service) {
	r.Register(newFunc("read_notebook",
		"Read a notebook: metadata, format version and every cell with output summaries.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			slog.Info("Reading notebook", "path", path)
			return svc.Read(path)
		},
		pathParam))

	r.Register(newFunc("list_notebooks",
		"List the notebooks in a directory with size, modification time, cell count and title.",
		func(ctx context.Context, a Args) (any, error) {
			dir, err := a.OptString("directory", ".")
			if err != nil {
				return nil, err
			}
			return svc.List(dir)
		},
		Param{Name: "directory", Type: "string", Description: "Directory to scan (default \".\")."}))

	r.Register(newFunc("create_notebook",
		"Create a notebook with a title heading and an empty code cell.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			title, err := a.OptString("title", "New Notebook")
			if err != nil {
				return nil, err
			}
			slog.Info("Creating notebook", "path", path, "title", title)
			return svc.Create(path, title)
		},
		pathParam,
		Param{Name: "title", Type: "string", Description: "Notebook title."}))

	r.Register(newFunc("backup_notebook",
		"Copy a notebook to a timestamped backup next to it.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			return svc.Backup(path)
		},
		pathParam))

	r.Register(newFunc("get_notebook_metadata",
		"Report file info, cell counts by type, executed cells and the kernelspec.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			return svc.Metadata(path)
		},
		pathParam))

	r.Register(newFunc("search_cells",
		"Find cells containing a term, with matching line numbers.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			term, err := a.String("search_term")
			if err != nil {
				return nil, err
			}
			cs, err := a.Bool("case_sensitive", false)
			if err != nil {
				return nil, err
			}
			return svc.Search(path, term, cs)
		},
		pathParam,
		Param{Name: "search_term", Type: "string", Description: "Text to look for.", Required: true},
		Param{Name: "case_sensitive", Type: "boolean", Description: "Match case (default false)."}))

	r.Register(newFunc("analyze_dependencies",
		"List imported modules and pip-installed packages.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			return svc.Dependencies(path)
		},
		pathParam))
}
