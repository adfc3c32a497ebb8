package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Func adapts a function into a Tool.
type Func struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args Args) (any, error)
}

func (f *Func) Name() string                { return f.name }
func (f *Func) Description() string         { return f.description }
func (f *Func) InputSchema() map[string]any { return f.schema }

func (f *Func) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f.fn(ctx, Args(input))
}

// Param describes one input property.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

func objectSchema(params ...Param) map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range params {
		props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func newFunc(name, description string, fn func(ctx context.Context, args Args) (any, error), params ...Param) *Func {
	return &Func{name: name, description: description, schema: objectSchema(params...), fn: fn}
}

// Args is a decoded tool input.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("argument '%s' is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' must be a string", key)
	}
	return s, nil
}

// OptString returns a string argument or def when it is absent.
func (a Args) OptString(key, def string) (string, error) {
	if v, ok := a[key]; !ok || v == nil {
		return def, nil
	}
	return a.String(key)
}

// Int returns a required integer argument. JSON numbers and numeric strings
// are accepted.
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("argument '%s' is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("argument '%s' must be an integer", key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument '%s' must be an integer", key)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("argument '%s' must be an integer", key)
		}
		return i, nil
	}
	return 0, fmt.Errorf("argument '%s' must be an integer", key)
}

// OptInt returns an integer argument, or nil when it is absent.
func (a Args) OptInt(key string) (*int, error) {
	if v, ok := a[key]; !ok || v == nil {
		return nil, nil
	}
	n, err := a.Int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Bool returns a boolean argument or def when it is absent.
func (a Args) Bool(key string, def bool) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("argument '%s' must be a boolean", key)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("argument '%s' must be a boolean", key)
}

// Seconds returns a duration given in seconds, or zero when absent.
func (a Args) Seconds(key string) (time.Duration, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, nil
	}
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case int:
		secs = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("argument '%s' must be a number of seconds", key)
		}
		secs = f
	default:
		return 0, fmt.Errorf("argument '%s' must be a number of seconds", key)
	}
	if secs < 0 {
		return 0, fmt.Errorf("argument '%s' must not be negative", key)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Decode re-encodes an argument into v.
func (a Args) Decode(key string, v any) error {
	raw, ok := a[key]
	if !ok || raw == nil {
		return fmt.Errorf("argument '%s' is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("argument '%s': %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("argument '%s' is malformed: %w", key, err)
	}
	return nil
}

var (
	pathParam     = Param{Name: "notebook_path", Type: "string", Description: "Path to the .ipynb file.", Required: true}
	indexParam    = Param{Name: "cell_index", Type: "integer", Description: "Zero-based cell index.", Required: true}
	kernelParam   = Param{Name: "kernel_name", Type: "string", Description: "Kernelspec to run under (default python3)."}
	timeoutParam  = Param{Name: "timeout", Type: "number", Description: "Execution timeout in seconds."}
	backupParam   = Param{Name: "auto_backup", Type: "boolean", Description: "Back up the notebook first (default true)."}
	refreshParam  = Param{Name: "auto_refresh", Type: "boolean", Description: "Ask the editor to reload the notebook afterwards (default true)."}
	outputParam   = Param{Name: "output_path", Type: "string", Description: "Destination file. Defaults to a sibling of the notebook."}
	cellTypeParam = Param{Name: "cell_type", Type: "string", Description: "One of code, markdown, raw.", Required: true}
)
