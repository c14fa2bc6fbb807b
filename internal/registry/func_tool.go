package registry

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/toolplan"
)

// Func is the signature of a plain Go function usable as a tool.
type Func func(ctx context.Context, params map[string]any) (*toolplan.ToolResult, error)

// FuncTool adapts a Go function to the toolplan.Tool interface.
type FuncTool struct {
	fn        Func
	name      string
	schema    map[string]any
	validator func(map[string]any) error
}

// FuncOption configures a FuncTool.
type FuncOption func(*FuncTool)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(map[string]any) error) FuncOption {
	return func(t *FuncTool) {
		t.validator = validator
	}
}

// WithDescription sets the tool's description.
func WithDescription(description string) FuncOption {
	return func(t *FuncTool) {
		t.schema["description"] = description
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) FuncOption {
	return func(t *FuncTool) {
		t.schema["category"] = category
	}
}

// WithParameters sets the JSON schema of the tool's parameters.
func WithParameters(parameters map[string]any) FuncOption {
	return func(t *FuncTool) {
		t.schema["parameters"] = parameters
	}
}

// WithRequired validates that every key is present and non-nil.
// It replaces any validator set earlier.
func WithRequired(keys ...string) FuncOption {
	return func(t *FuncTool) {
		t.validator = func(params map[string]any) error {
			if params == nil {
				return fmt.Errorf("params cannot be nil")
			}
			for _, k := range keys {
				if v, ok := params[k]; !ok || v == nil {
					return fmt.Errorf("missing required parameter %q", k)
				}
			}
			return nil
		}
	}
}

// NewFuncTool creates a tool backed by fn.
func NewFuncTool(name string, fn Func, opts ...FuncOption) *FuncTool {
	t := &FuncTool{
		fn:     fn,
		name:   name,
		schema: map[string]any{"name": name},
		validator: func(params map[string]any) error {
			if params == nil {
				return fmt.Errorf("params cannot be nil")
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute validates params and calls the underlying function.
func (t *FuncTool) Execute(ctx context.Context, params map[string]any) (*toolplan.ToolResult, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool function is nil")
	}
	if err := t.Validate(params); err != nil {
		return nil, toolplan.NewValidationError("execute", fmt.Sprintf("invalid params for %s", t.name), err)
	}
	return t.fn(ctx, params)
}

// Schema implements toolplan.Tool.
func (t *FuncTool) Schema() map[string]any {
	return t.schema
}

// Validate implements toolplan.Tool.
func (t *FuncTool) Validate(params map[string]any) error {
	if t.validator != nil {
		return t.validator(params)
	}
	return nil
}

// Name implements toolplan.Tool.
func (t *FuncTool) Name() string {
	return t.name
}
