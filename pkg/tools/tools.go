package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nstogner/nbtool/pkg/export"
	"github.com/nstogner/nbtool/pkg/metrics"
	"github.com/nstogner/nbtool/pkg/service"
	"github.com/nstogner/nbtool/pkg/workflow"
)

// ErrUnknownTool means no tool is registered under the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// Tool defines the interface that all notebook tools must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // Simple representation of JSON schema
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Call runs the named tool and wraps its result in a response object that
// always carries "success", plus "error" on failure. Tool errors and panics
// are reported in the response; only an unknown name returns an error.
func (r *Registry) Call(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if input == nil {
		input = map[string]any{}
	}

	start := time.Now()
	resp := r.run(ctx, t, input)
	success, _ := resp["success"].(bool)
	metrics.RecordToolCall(name, success, time.Since(start))
	if !success {
		slog.Warn("Tool call failed", "tool", name, "error", resp["error"])
	} else {
		slog.Debug("Tool call succeeded", "tool", name, "duration", time.Since(start))
	}
	return resp, nil
}

func (r *Registry) run(ctx context.Context, t Tool, input map[string]any) (resp map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", t.Name(), "panic", p)
			resp = failure(fmt.Errorf("internal error: %v", p))
		}
	}()

	result, err := t.Execute(ctx, input)
	if err != nil {
		return failure(err)
	}
	resp, err = envelope(result)
	if err != nil {
		return failure(err)
	}
	return resp
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

// envelope converts a result into a JSON object with a success flag. Results
// that already report success keep their own flag.
func envelope(result any) (map[string]any, error) {
	if result == nil {
		return map[string]any{"success": true}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		return map[string]any{"success": true, "result": v}, nil
	}
	if _, ok := obj["success"]; !ok {
		obj["success"] = true
	}
	if ok, _ := obj["success"].(bool); !ok {
		if _, has := obj["error"]; !has {
			obj["error"] = summaryError(obj)
		}
	}
	return obj, nil
}

// summaryError picks a message for a failed result that has no "error" key.
func summaryError(obj map[string]any) string {
	if errs, ok := obj["errors"].([]any); ok && len(errs) > 0 {
		if s, ok := errs[len(errs)-1].(string); ok {
			return s
		}
	}
	if s, ok := obj["summary"].(string); ok && s != "" {
		return s
	}
	return "operation failed"
}

// Backends groups what the tool surface runs against.
type Backends struct {
	Documents *service.Service
	Runner    Runner
	Exporter  *export.Exporter
	Workflows *workflow.Orchestrator
}

// NewDefault registers every tool for b.
func NewDefault(b Backends) *Registry {
	r := NewRegistry()
	RegisterFiles(r, b.Documents)
	RegisterCells(r, b.Documents)
	RegisterKernel(r, b.Runner)
	RegisterExport(r, b.Exporter)
	RegisterWorkflow(r, b.Workflows)
	return r
}
