package tools

import (
	"context"

	"github.com/nstogner/nbtool/pkg/service"
)

// RegisterCells adds the single-cell editing tools.
func RegisterCells(r *Registry, svc *service.Service) {
	r.Register(newFunc("add_cell",
		"Insert a cell at an index, or append it when no index is given.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			t, err := a.String("cell_type")
			if err != nil {
				return nil, err
			}
			content, err := a.OptString("content", "")
			if err != nil {
				return nil, err
			}
			index, err := a.OptInt("index")
			if err != nil {
				return nil, err
			}
			return svc.AddCell(path, t, content, index)
		},
		pathParam, cellTypeParam,
		Param{Name: "content", Type: "string", Description: "Cell source."},
		Param{Name: "index", Type: "integer", Description: "Insert position (default: end)."}))

	r.Register(newFunc("modify_cell",
		"Replace a cell's source. Code cells lose their outputs.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			content, err := a.String("new_content")
			if err != nil {
				return nil, err
			}
			return svc.ModifyCell(path, index, content)
		},
		pathParam, indexParam,
		Param{Name: "new_content", Type: "string", Description: "New cell source.", Required: true}))

	r.Register(newFunc("delete_cell",
		"Remove a cell.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			return svc.DeleteCell(path, index)
		},
		pathParam, indexParam))

	r.Register(newFunc("get_cell",
		"Return one cell with its output summaries.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			return svc.GetCell(path, index)
		},
		pathParam, indexParam))

	r.Register(newFunc("move_cell",
		"Move a cell to another existing position.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			from, err := a.Int("from_index")
			if err != nil {
				return nil, err
			}
			to, err := a.Int("to_index")
			if err != nil {
				return nil, err
			}
			return svc.MoveCell(path, from, to)
		},
		pathParam,
		Param{Name: "from_index", Type: "integer", Description: "Current position.", Required: true},
		Param{Name: "to_index", Type: "integer", Description: "Target position.", Required: true}))

	r.Register(newFunc("duplicate_cell",
		"Copy a cell to the position right after it, without outputs.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			return svc.DuplicateCell(path, index)
		},
		pathParam, indexParam))

	r.Register(newFunc("clear_outputs",
		"Clear outputs of one code cell, or of every code cell when no index is given.",
		func(ctx context.Context, a Args) (any, error) {
			path, err := a.String("notebook_path")
			if err != nil {
				return nil, err
			}
			index, err := a.OptInt("cell_index")
			if err != nil {
				return nil, err
			}
			return svc.ClearOutputs(path, index)
		},
		pathParam,
		Param{Name: "cell_index", Type: "integer", Description: "Cell to clear (default: all)."}))

	r.Register(newFunc("change_cell_type",
		"Convert a cell to another type, keeping its source.",
		func(ctx context.Context, a Args) (any, error) {
			path, index, err := pathAndIndex(a)
			if err != nil {
				return nil, err
			}
			t, err := a.String("new_type")
			if err != nil {
				return nil, err
			}
			return svc.ChangeCellType(path, index, t)
		},
		pathParam, indexParam,
		Param{Name: "new_type", Type: "string", Description: "One of code, markdown, raw.", Required: true}))
}

func pathAndIndex(a Args) (string, int, error) {
	path, err := a.String("notebook_path")
	if err != nil {
		return "", 0, err
	}
	index, err := a.Int("cell_index")
	if err != nil {
		return "", 0, err
	}
	return path, index, nil
}
